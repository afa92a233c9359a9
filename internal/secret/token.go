package secret

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Default locations of the release API token.
const (
	DefaultTokenAccount = "release-api-token"
	DefaultTokenEnv     = "HOSTBRIDGE_RELEASE_TOKEN"
)

// TokenSource looks up the release API token, keyring first.
type TokenSource struct {
	providers []Provider
	refs      []Ref
	logger    *zap.SugaredLogger
}

// NewTokenSource builds a source that tries the keyring account and then the env var.
// Empty names fall back to the defaults.
func NewTokenSource(logger *zap.SugaredLogger, account, envVar string) *TokenSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if account == "" {
		account = DefaultTokenAccount
	}
	if envVar == "" {
		envVar = DefaultTokenEnv
	}
	return &TokenSource{
		providers: []Provider{NewKeyringProvider(), NewEnvProvider()},
		refs: []Ref{
			{Type: SecretTypeKeyring, Name: account},
			{Type: SecretTypeEnv, Name: envVar},
		},
		logger: logger,
	}
}

// Token returns the first token found. A missing token is not an error:
// the release API is usable anonymously.
func (s *TokenSource) Token(ctx context.Context) string {
	for _, ref := range s.refs {
		for _, p := range s.providers {
			if !p.CanResolve(ref.Type) {
				continue
			}
			value, err := p.Resolve(ctx, ref)
			if err == nil {
				s.logger.Debugw("Release API token resolved", "type", ref.Type, "name", ref.Name)
				return value
			}
			if !errors.Is(err, ErrNotFound) {
				s.logger.Warnw("Failed to resolve release API token", "type", ref.Type, "error", err)
			}
		}
	}
	return ""
}

// StoreToken saves the token in the keyring account.
func (s *TokenSource) StoreToken(ctx context.Context, value string) error {
	return s.providers[0].Store(ctx, s.refs[0], value)
}

// DeleteToken removes the token from the keyring account.
func (s *TokenSource) DeleteToken(ctx context.Context) error {
	return s.providers[0].Delete(ctx, s.refs[0])
}
