package ports

import (
	"context"
	"time"
)

// AuditStatus is the result recorded for an update attempt.
type AuditStatus string

const (
	AuditStatusSucceeded AuditStatus = "succeeded"
	AuditStatusFailed    AuditStatus = "failed"
)

// AuditRecord is one configuration update attempt.
type AuditRecord struct {
	ID             string      `json:"id" db:"id"`
	SessionID      string      `json:"session_id" db:"session_id"`
	UserID         string      `json:"user_id" db:"user_id"`
	Mode           string      `json:"mode" db:"mode"`
	ModelName      string      `json:"model_name" db:"model_name"`
	Status         AuditStatus `json:"status" db:"status"`
	ModelExisted   bool        `json:"model_existed" db:"model_existed"`
	RegistryBackup string      `json:"registry_backup,omitempty" db:"registry_backup"`
	ProviderBackup string      `json:"provider_backup,omitempty" db:"provider_backup"`
	ErrorKind      string      `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage   string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AuditListOptions controls pagination of ListUpdates.
type AuditListOptions struct {
	UserID string
	Limit  int
	Offset int
}

// AuditStore records configuration update attempts.
// Implementations: SQLite (default).
type AuditStore interface {
	RecordUpdate(ctx context.Context, rec *AuditRecord) error
	ListUpdates(ctx context.Context, opts AuditListOptions) ([]*AuditRecord, error)
	Close() error
}
