// Package secrets resolves credentials from the environment or from
// mounted secret files, so the rest of the code never touches os.Getenv
// for sensitive values.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/turtlesoup0/itnews-sender/token"
)

// Provider resolves a named secret.
type Provider interface {
	Get(name string) (string, error)
}

// Env reads secrets from environment variables.
type Env struct{}

// Get returns the named environment variable, erroring on empty.
func (Env) Get(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("secret %s is not set", name)
	}
	return v, nil
}

// Dir reads secrets from files under a directory, one file per secret.
// This matches mounted secret volumes, where the file name is the
// secret name.
type Dir struct {
	Path string
}

// Get reads and trims the named secret file.
func (d Dir) Get(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.Path, name))
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("secret %s is empty", name)
	}
	return v, nil
}

// SigningKey resolves the unsubscribe-token signing key and enforces
// the minimum length; a short key weakens every token ever issued.
func SigningKey(p Provider, name string) ([]byte, error) {
	v, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	key := []byte(v)
	if len(key) < token.MinKeyLen {
		return nil, fmt.Errorf("secret %s is %d bytes, need at least %d", name, len(key), token.MinKeyLen)
	}
	return key, nil
}
