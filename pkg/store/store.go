// Package store persists collaborative document state in a relational
// database: full state snapshots, an append-only update log, and the legacy
// latex_content mirror consumed by the rest of the system.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the load operations when no row exists for the
// requested document.
var ErrNotFound = errors.New("not found")

type Store interface {
	// LoadState returns the last saved full state snapshot for the document,
	// or ErrNotFound.
	LoadState(ctx context.Context, documentID int64) ([]byte, error)
	// SaveState writes the full state snapshot, replacing any previous one.
	SaveState(ctx context.Context, documentID int64, state []byte) error
	// AppendUpdate appends an incremental update to the document's log. The
	// log is kept for history replay only; snapshots are authoritative.
	AppendUpdate(ctx context.Context, documentID int64, update []byte) error
	// DeleteState removes the state snapshot and all logged updates for the
	// document.
	DeleteState(ctx context.Context, documentID int64) error
	// LoadLegacyText returns the latex_content column of the owning document
	// row, or ErrNotFound when the row does not exist.
	LoadLegacyText(ctx context.Context, documentID int64) (string, error)
	// SaveLegacyText overwrites latex_content and bumps its timestamp. A
	// missing document row is not an error: the row belongs to the CRUD
	// layer and may not exist yet.
	SaveLegacyText(ctx context.Context, documentID int64, text string) error
	Close() error
}
