package models

import "time"

// SecretScope identifies the level a secret is attached to. Project-scoped
// secrets shadow organization-scoped secrets of the same name.
type SecretScope string

const (
	SecretScopeProject      SecretScope = "project"
	SecretScopeOrganization SecretScope = "organization"
)

// Secret stores only an encrypted value plus provenance. Plaintext is never
// persisted, logged or surfaced in step output.
type Secret struct {
	ID         string      `json:"id"`
	Scope      SecretScope `json:"scope"    validate:"required,oneof=project organization"`
	ScopeID    string      `json:"scope_id" validate:"required"`
	Name       string      `json:"name"     validate:"required,min=1"`
	Ciphertext []byte      `json:"-"`
	CreatedBy  string      `json:"created_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty"`
}
