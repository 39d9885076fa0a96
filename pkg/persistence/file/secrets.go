package file

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
	"github.com/google/uuid"
)

// SecretRepository stores encrypted secrets. The JSON documents carry only
// ciphertext; the model never serializes plaintext.
type SecretRepository struct {
	p *Persistence
}

// storedSecret is the on-disk shape; Ciphertext is json:"-" on the model so
// it needs an explicit field here.
type storedSecret struct {
	models.Secret

	Ciphertext []byte `json:"ciphertext"`
}

func (r *SecretRepository) Get(ctx context.Context, scope models.SecretScope, scopeID, name string) (*models.Secret, error) {
	secrets, err := r.ListByScope(ctx, scope, scopeID)
	if err != nil {
		return nil, err
	}

	for _, secret := range secrets {
		if secret.Name == name {
			return secret, nil
		}
	}

	return nil, persistence.ErrSecretNotFound
}

func (r *SecretRepository) ListByScope(_ context.Context, scope models.SecretScope, scopeID string) ([]*models.Secret, error) {
	ids, err := r.p.list("secrets")
	if err != nil {
		return nil, err
	}

	secrets := make([]*models.Secret, 0)

	for _, id := range ids {
		var stored storedSecret
		if found, err := r.p.read("secrets", id, &stored); err == nil && found {
			if stored.Scope == scope && stored.ScopeID == scopeID {
				secret := stored.Secret
				secret.Ciphertext = stored.Ciphertext
				secrets = append(secrets, &secret)
			}
		}
	}

	return secrets, nil
}

func (r *SecretRepository) Save(_ context.Context, secret *models.Secret) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if secret.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate secret ID: %w", err)
		}

		secret.ID = id.String()
	}

	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now().UTC()
	}

	return r.p.write("secrets", secret.ID, &storedSecret{Secret: *secret, Ciphertext: secret.Ciphertext})
}

func (r *SecretRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.remove("secrets", id)
}

func (r *SecretRepository) TouchLastUsed(_ context.Context, id string, usedAt time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var stored storedSecret

	found, err := r.p.read("secrets", id, &stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrSecretNotFound
	}

	stored.LastUsedAt = &usedAt

	return r.p.write("secrets", stored.ID, &stored)
}
