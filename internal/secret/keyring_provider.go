package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring entries
	ServiceName       = "hostbridge"
	SecretTypeKeyring = "keyring"

	availabilityProbe = "_hostbridge_test_availability"
)

// KeyringProvider resolves secrets from OS keyring (Keychain, Secret Service, WinCred)
type KeyringProvider struct {
	serviceName string
}

// NewKeyringProvider creates a new keyring provider
func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{serviceName: ServiceName}
}

// CanResolve returns true if this provider can handle the given secret type
func (p *KeyringProvider) CanResolve(secretType string) bool {
	return secretType == SecretTypeKeyring
}

// Resolve retrieves the secret value from the OS keyring
func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	if !p.CanResolve(ref.Type) {
		return "", fmt.Errorf("keyring provider cannot resolve secret type: %s", ref.Type)
	}

	value, err := keyring.Get(p.serviceName, ref.Name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring entry %s: %w", ref.Name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s from keyring: %w", ref.Name, err)
	}
	return value, nil
}

// Store saves a secret to the OS keyring
func (p *KeyringProvider) Store(_ context.Context, ref Ref, value string) error {
	if !p.CanResolve(ref.Type) {
		return fmt.Errorf("keyring provider cannot store secret type: %s", ref.Type)
	}
	if err := keyring.Set(p.serviceName, ref.Name, value); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", ref.Name, err)
	}
	return nil
}

// Delete removes a secret from the OS keyring. Deleting a missing entry is not an error.
func (p *KeyringProvider) Delete(_ context.Context, ref Ref) error {
	if !p.CanResolve(ref.Type) {
		return fmt.Errorf("keyring provider cannot delete secret type: %s", ref.Type)
	}
	err := keyring.Delete(p.serviceName, ref.Name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete secret %s from keyring: %w", ref.Name, err)
	}
	return nil
}

// IsAvailable checks if the keyring is available on the current system
func (p *KeyringProvider) IsAvailable() bool {
	if err := keyring.Set(p.serviceName, availabilityProbe, "test"); err != nil {
		return false
	}
	if _, err := keyring.Get(p.serviceName, availabilityProbe); err != nil {
		return false
	}
	_ = keyring.Delete(p.serviceName, availabilityProbe)
	return true
}
