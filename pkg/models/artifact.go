package models

import "time"

// Artifact is a named file reference produced by a run. The bytes live in an
// external store; this record carries only bookkeeping plus the expiration
// deadline evaluated lazily by the external reaper.
type Artifact struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Name      string    `json:"name" validate:"required,min=1"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired is a pure function of now vs. the expiration deadline.
func (a *Artifact) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
