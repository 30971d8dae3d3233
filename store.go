package auditrail

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports a primary operation against a missing entity.
	ErrNotFound = errors.New("auditrail: not found")
	// ErrDuplicate reports a uniqueness violation.
	ErrDuplicate = errors.New("auditrail: duplicate key")
)

// Store is the storage collaborator the recorder depends on. It owns the
// transaction manager and the schema metadata; the recorder never touches a
// storage engine directly.
type Store interface {
	// Begin starts a unit of work.
	Begin(ctx context.Context) (UnitOfWork, error)
	// Describe returns the declared schema of an entity type.
	Describe(entity any) (FieldSets, error)
}

// UnitOfWork is the atomic scope in which a primary write and its audit
// entry commit together.
type UnitOfWork interface {
	// Insert persists a new entity and returns it with generated fields set.
	Insert(ctx context.Context, entity any) (any, error)
	// Update applies the changed columns to an existing entity and returns
	// the materialized result.
	Update(ctx context.Context, entity any, changes map[string]any) (any, error)
	// Upsert inserts the entity or updates it on identifier conflict.
	Upsert(ctx context.Context, entity any) (any, error)
	// Delete removes the entity.
	Delete(ctx context.Context, entity any) error
	// InsertEntry appends an audit entry to the given table and returns it
	// with its storage identifier set.
	InsertEntry(ctx context.Context, table string, entry *Entry) (*Entry, error)
	// Commit finishes the unit of work.
	Commit(ctx context.Context) error
	// Rollback abandons the unit of work. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}
