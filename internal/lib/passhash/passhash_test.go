package passhash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	digest, err := Hash("pw12345678")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(digest, "$argon2id$"))

	ok, err := Verify("pw12345678", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("wrong-password", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashProducesUniqueDigests(t *testing.T) {
	first, err := Hash("same-password")
	require.NoError(t, err)

	second, err := Hash("same-password")
	require.NoError(t, err)

	// Random salt per digest: equal passwords must not collide.
	assert.NotEqual(t, first, second)
}

func TestVerifyMalformedDigest(t *testing.T) {
	cases := []struct {
		name   string
		digest string
	}{
		{"empty", ""},
		{"not a digest", "plaintext"},
		{"wrong variant", "$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$a2V5"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=1$!!!$a2V5"},
		{"missing key", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verify("whatever", tc.digest)
			assert.ErrorIs(t, err, ErrMalformedDigest)
		})
	}
}
