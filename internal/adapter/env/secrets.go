package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when no variable holds the requested secret.
var ErrSecretNotFound = errors.New("secret not found")

// Secrets resolves secrets from environment variables. A secret named
// "openweather_api_key" is read from SECRET_OPENWEATHER_API_KEY, falling back
// to OPENWEATHER_API_KEY.
type Secrets struct {
	lookup func(string) (string, bool)
}

func NewSecrets() *Secrets {
	return &Secrets{lookup: os.LookupEnv}
}

func (s *Secrets) Get(_ context.Context, name string) (string, error) {
	upper := strings.ToUpper(name)
	for _, key := range []string{"SECRET_" + upper, upper} {
		if v, ok := s.lookup(key); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}
