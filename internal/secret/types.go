package secret

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a provider has no value for a reference.
var ErrNotFound = errors.New("secret not found")

// Ref names a secret within one provider.
type Ref struct {
	Type string // env, keyring
	Name string // environment variable name or keyring account
}

// Provider resolves secret references of a given type.
type Provider interface {
	CanResolve(secretType string) bool
	Resolve(ctx context.Context, ref Ref) (string, error)
	Store(ctx context.Context, ref Ref, value string) error
	Delete(ctx context.Context, ref Ref) error
	IsAvailable() bool
}
