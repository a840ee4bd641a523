package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: document not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// For the file driver Path is a directory; for sqlite it is the database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the engine.
type Store interface {
	// ReadBlob returns ErrNotFound when the document was never written.
	ReadBlob(ctx context.Context, name string) ([]byte, error)
	WriteBlob(ctx context.Context, name string, data []byte) error
	// QuarantineBlob keeps a copy of bad data aside and returns where it went.
	QuarantineBlob(ctx context.Context, name string, data []byte, suffix string) (string, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

// AuditEntry records an operator or dashboard action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Contact string    `json:"contact,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Error   string    `json:"error,omitempty"`
}
