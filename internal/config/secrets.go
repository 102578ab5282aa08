package config

import (
	"os"

	"github.com/rotisserie/eris"
)

// Secret name prefixes recognized by the lookup. Unprefixed names never
// resolve and fall back to the provided default.
var secretPrefixes = []string{"SECRET_", "CREDENTIAL_"}

// GetSecret resolves a prefixed secret from the environment, returning
// fallback when the name is unprefixed or unset.
func GetSecret(name, fallback string) string {
	if !hasSecretPrefix(name) {
		return fallback
	}
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

// MustSecret resolves a prefixed secret, failing when it is absent.
func MustSecret(name string) (string, error) {
	if !hasSecretPrefix(name) {
		return "", eris.Errorf("config: secret name %q must start with SECRET_ or CREDENTIAL_", name)
	}
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", eris.Errorf("config: required secret %q is not set", name)
	}
	return v, nil
}

func hasSecretPrefix(name string) bool {
	for _, p := range secretPrefixes {
		if len(name) > len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}
