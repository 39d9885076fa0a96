package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

// Vault resolves named secrets for a step. Project-scoped secrets shadow
// organization-scoped secrets of the same name.
type Vault struct {
	secrets   persistence.SecretRepository
	encryptor Encryptor
	logger    *slog.Logger
}

func New(secrets persistence.SecretRepository, encryptor Encryptor, logger *slog.Logger) *Vault {
	return &Vault{
		secrets:   secrets,
		encryptor: encryptor,
		logger:    logger,
	}
}

// Store encrypts and persists a secret value. The plaintext is discarded
// after sealing.
func (v *Vault) Store(ctx context.Context, scope models.SecretScope, scopeID, name, plaintext, createdBy string) error {
	ciphertext, err := v.encryptor.Encrypt([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret %s: %w", name, err)
	}

	secret := &models.Secret{
		Scope:      scope,
		ScopeID:    scopeID,
		Name:       name,
		Ciphertext: ciphertext,
		CreatedBy:  createdBy,
	}

	if err := v.secrets.Save(ctx, secret); err != nil {
		return fmt.Errorf("failed to save secret %s: %w", name, err)
	}

	return nil
}

// Resolve returns the plaintext values for the requested secret names. Any
// name that resolves in neither scope fails the whole request before a single
// value is returned, so a step never starts with a partial environment.
func (v *Vault) Resolve(ctx context.Context, projectID, organizationID string, names []string) (map[string]string, error) {
	resolved := make(map[string]string, len(names))
	now := time.Now().UTC()

	for _, name := range names {
		secret, err := v.lookup(ctx, projectID, organizationID, name)
		if err != nil {
			return nil, err
		}

		plaintext, err := v.encryptor.Decrypt(secret.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret %s: %w", name, err)
		}

		resolved[name] = string(plaintext)

		if err := v.secrets.TouchLastUsed(ctx, secret.ID, now); err != nil {
			v.logger.WarnContext(ctx, "Failed to record secret usage", "secret", name, "error", err)
		}
	}

	return resolved, nil
}

func (v *Vault) lookup(ctx context.Context, projectID, organizationID, name string) (*models.Secret, error) {
	secret, err := v.secrets.Get(ctx, models.SecretScopeProject, projectID, name)
	if err == nil {
		return secret, nil
	}

	if !persistence.IsSecretNotFound(err) {
		return nil, fmt.Errorf("failed to look up secret %s: %w", name, err)
	}

	if organizationID != "" {
		secret, err = v.secrets.Get(ctx, models.SecretScopeOrganization, organizationID, name)
		if err == nil {
			return secret, nil
		}

		if !persistence.IsSecretNotFound(err) {
			return nil, fmt.Errorf("failed to look up secret %s: %w", name, err)
		}
	}

	return nil, fmt.Errorf("secret %s is not defined in any scope: %w", name, persistence.ErrSecretNotFound)
}
