package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGoogle(t *testing.T) {
	raw := map[string]any{
		"id":    "g-123",
		"email": "alice@example.com",
		"name":  "Alice",
	}

	p, err := Normalize(ProviderGoogle, raw)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", p.Email)
	assert.Equal(t, "Alice", p.Username)
	assert.Equal(t, "g-123", p.ProviderID)
}

// GitHub sends numeric ids and uses "login" for the handle.
func TestNormalizeGitHub(t *testing.T) {
	raw := map[string]any{
		"id":    float64(123456),
		"email": "bob@example.com",
		"login": "bob-dev",
	}

	p, err := Normalize(ProviderGitHub, raw)
	require.NoError(t, err)

	assert.Equal(t, "123456", p.ProviderID)
	assert.Equal(t, "bob-dev", p.Username)
}

func TestNormalizeUsernameFallsBackToEmailLocalPart(t *testing.T) {
	raw := map[string]any{
		"id":    "fb-9",
		"email": "carol@example.com",
	}

	p, err := Normalize(ProviderFacebook, raw)
	require.NoError(t, err)

	assert.Equal(t, "carol", p.Username)
}

func TestNormalizeMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"missing email", map[string]any{"id": "g-123", "name": "Alice"}},
		{"missing id", map[string]any{"email": "alice@example.com"}},
		{"empty payload", map[string]any{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(ProviderGoogle, tc.raw)
			assert.ErrorIs(t, err, ErrMissingProfileField)
		})
	}
}

func TestNormalizeUnsupportedProvider(t *testing.T) {
	_, err := Normalize("myspace", map[string]any{"id": "1", "email": "a@b.c"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewClientSkipsUnconfiguredProviders(t *testing.T) {
	c := NewClient(testConfig())

	_, err := c.FetchProfile(t.Context(), ProviderFacebook, "code", "")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
