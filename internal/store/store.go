// Package store defines the owner-scoped persistence contract for memories.
//
// Records are addressed publicly by (owner, record id) but stored under
// (owner, creation time). Every mutation therefore resolves the record id to
// its physical key first and then writes with a condition that the stored
// record id still matches. Implementations must keep both steps.
package store

import (
	"context"
	"errors"

	"github.com/jun/memories/internal/model"
)

var (
	// ErrNotFound means the owner has no record with the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrConditionFailed means the record changed between resolving its key
	// and writing it. Retrying the whole operation is safe.
	ErrConditionFailed = errors.New("record changed concurrently")

	// ErrUnavailable means the backing store failed transiently.
	ErrUnavailable = errors.New("record store unavailable")

	// ErrInvalidCursor is returned for a pagination cursor that cannot be
	// opened or was issued to another owner.
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// PageRequest selects one page of an owner's records. An empty Cursor starts
// from the beginning.
type PageRequest struct {
	Limit  int
	Cursor string
}

// EffectiveLimit clamps Limit into [1, MaxPageLimit], defaulting to
// DefaultPageLimit.
func (r PageRequest) EffectiveLimit() int {
	switch {
	case r.Limit <= 0:
		return DefaultPageLimit
	case r.Limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return r.Limit
	}
}

// Page is one slice of a listing. NextCursor is empty on the last page.
type Page struct {
	Items      []model.Memory `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// Store persists memories. Every method is scoped to ownerID; no method can
// observe or change another owner's records.
type Store interface {
	// ListByOwner returns all of the owner's records.
	ListByOwner(ctx context.Context, ownerID string) ([]model.Memory, error)
	// ListPage returns one page of the owner's records.
	ListPage(ctx context.Context, ownerID string, req PageRequest) (Page, error)
	// Get resolves a record by its logical id.
	Get(ctx context.Context, ownerID, recordID string) (model.Memory, error)
	// Create inserts m unconditionally. The caller sets ID and CreatedAt.
	Create(ctx context.Context, m model.Memory) (model.Memory, error)
	// Update replaces the user-editable fields and returns the stored record.
	Update(ctx context.Context, ownerID, recordID string, u model.MemoryUpdate) (model.Memory, error)
	Delete(ctx context.Context, ownerID, recordID string) error
	// SetAttachmentKey stores objectKey as the record's attachment.
	SetAttachmentKey(ctx context.Context, ownerID, recordID, objectKey string) error
}
