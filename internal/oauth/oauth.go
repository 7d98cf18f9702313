package oauth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	ErrMissingProfileField = errors.New("oauth profile is missing a required field")
)

const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
	ProviderGitHub   = "github"
)

// Profile is the one shape every provider's raw payload is reduced to
// before it reaches the user store.
type Profile struct {
	Email      string
	Username   string
	ProviderID string
}

// Normalize maps a provider's raw profile payload into a Profile. It is a
// pure mapping: no I/O, no defaults beyond deriving a username from the
// email's local part when the provider gives none.
func Normalize(provider string, raw map[string]any) (Profile, error) {
	switch provider {
	case ProviderGoogle:
		return normalizeFields(raw, "id", "email", "name")
	case ProviderFacebook:
		return normalizeFields(raw, "id", "email", "name")
	case ProviderGitHub:
		return normalizeFields(raw, "id", "email", "login")
	}

	return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
}

func normalizeFields(raw map[string]any, idKey, emailKey, nameKey string) (Profile, error) {
	id := stringField(raw, idKey)
	if id == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrMissingProfileField, idKey)
	}

	email := stringField(raw, emailKey)
	if email == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrMissingProfileField, emailKey)
	}

	username := stringField(raw, nameKey)
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	return Profile{
		Email:      email,
		Username:   username,
		ProviderID: id,
	}, nil
}

// stringField tolerates numeric ids: GitHub sends its user id as a JSON
// number.
func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	}

	return ""
}
