package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

// SecretRepository handles secret database operations. Only ciphertext ever
// touches the database.
type SecretRepository struct {
	db *sql.DB
}

const secretColumns = `
		id
	  , scope
	  , scope_id
	  , name
	  , ciphertext
	  , created_by
	  , created_at
	  , last_used_at
`

func (r *SecretRepository) Get(ctx context.Context, scope models.SecretScope, scopeID, name string) (*models.Secret, error) {
	query := `SELECT` + secretColumns + `FROM secrets WHERE scope = $1 AND scope_id = $2 AND name = $3`

	secret, err := scanSecret(r.db.QueryRowContext(ctx, query, string(scope), scopeID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSecretNotFound
		}

		return nil, err
	}

	return secret, nil
}

func (r *SecretRepository) ListByScope(ctx context.Context, scope models.SecretScope, scopeID string) ([]*models.Secret, error) {
	query := `SELECT` + secretColumns + `FROM secrets WHERE scope = $1 AND scope_id = $2 ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, string(scope), scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	secrets := make([]*models.Secret, 0)

	for rows.Next() {
		secret, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}

		secrets = append(secrets, secret)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating secrets: %w", err)
	}

	return secrets, nil
}

func (r *SecretRepository) Save(ctx context.Context, secret *models.Secret) error {
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

	query := `
		INSERT INTO secrets (id, scope, scope_id, name, ciphertext, created_by, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scope, scope_id, name) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			created_by = EXCLUDED.created_by
	`

	_, err := r.db.ExecContext(ctx, query,
		secret.ID,
		string(secret.Scope),
		secret.ScopeID,
		secret.Name,
		secret.Ciphertext,
		nullString(secret.CreatedBy),
		secret.CreatedAt,
		nullTime(secret.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}

	return nil
}

func (r *SecretRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM secrets WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	return nil
}

func (r *SecretRepository) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, "UPDATE secrets SET last_used_at = $2 WHERE id = $1", id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch secret: %w", err)
	}

	return checkAffected(result, persistence.ErrSecretNotFound)
}

func scanSecret(row rowScanner) (*models.Secret, error) {
	var (
		secret     models.Secret
		createdBy  sql.NullString
		lastUsedAt sql.NullTime
	)

	err := row.Scan(
		&secret.ID, &secret.Scope, &secret.ScopeID, &secret.Name,
		&secret.Ciphertext, &createdBy, &secret.CreatedAt, &lastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan secret: %w", err)
	}

	secret.CreatedBy = createdBy.String
	secret.LastUsedAt = timePtr(lastUsedAt)

	return &secret, nil
}
