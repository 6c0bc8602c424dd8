package embedding

import (
	"os"
	"strings"

	epierrors "github.com/agentic-memory/epimem/errors"
)

// APIKeyShape names a provider's expected key shape for validation
// purposes only — the key value itself is never logged.
type APIKeyShape struct {
	MinLength int
	Prefix    string
}

// ResolveAPIKey reads envVar and validates it against shape, returning
// a KindSecurity error (never including the key value) on failure.
func ResolveAPIKey(envVar string, shape APIKeyShape) (string, error) {
	key := os.Getenv(envVar)
	if key == "" {
		return "", epierrors.New("embedding.ResolveAPIKey", epierrors.KindSecurity, envVar, epierrors.ErrSecurity)
	}
	if shape.MinLength > 0 && len(key) < shape.MinLength {
		return "", epierrors.New("embedding.ResolveAPIKey", epierrors.KindSecurity, envVar, epierrors.ErrSecurity)
	}
	if shape.Prefix != "" && !strings.HasPrefix(key, shape.Prefix) {
		return "", epierrors.New("embedding.ResolveAPIKey", epierrors.KindSecurity, envVar, epierrors.ErrSecurity)
	}
	return key, nil
}
