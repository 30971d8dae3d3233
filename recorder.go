package auditrail

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of one recorder call. AuditErr is informational: when
// set, the primary operation committed but its audit entry could not be
// written. Callers needing durability guarantees for the audit trail must
// layer their own backstop above this; the recorder never retries.
type Result struct {
	Entity   any
	Entry    *Entry
	AuditErr error
}

// Insert performs the primary insert and records an audit entry for it in
// the same unit of work.
func (r *Recorder) Insert(ctx context.Context, actor any, cs *Changeset) (*Result, error) {
	return r.write(ctx, actor, cs, ChangeInsert)
}

// Update performs the primary update and records an audit entry for it in
// the same unit of work. An empty change set still completes the primary
// operation and records an entry with an empty changeset.
func (r *Recorder) Update(ctx context.Context, actor any, cs *Changeset) (*Result, error) {
	return r.write(ctx, actor, cs, ChangeUpdate)
}

// Upsert performs the primary upsert and records an audit entry for it in
// the same unit of work.
func (r *Recorder) Upsert(ctx context.Context, actor any, cs *Changeset) (*Result, error) {
	return r.write(ctx, actor, cs, ChangeUpsert)
}

func (r *Recorder) write(ctx context.Context, actor any, cs *Changeset, kind ChangeType) (*Result, error) {
	if cs == nil {
		return nil, fmt.Errorf("auditrail: nil changeset")
	}
	actor = r.resolveActor(ctx, actor)
	applied, err := cs.apply()
	if err != nil {
		return nil, err
	}

	uow, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditrail: begin: %w", err)
	}

	var entity any
	switch kind {
	case ChangeInsert:
		entity, err = uow.Insert(ctx, applied)
	case ChangeUpdate:
		entity, err = uow.Update(ctx, applied, cs.Changes())
	case ChangeUpsert:
		entity, err = uow.Upsert(ctx, applied)
	}
	if err != nil {
		// The primary error propagates verbatim; no audit entry exists.
		_ = uow.Rollback(ctx)
		return nil, err
	}

	entry, auditErr := r.writeEntry(ctx, uow, actor, entity, cs.Changes(), kind, false)
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("auditrail: commit: %w", err)
	}
	return r.finish(entity, entry, auditErr, kind), nil
}

// Delete removes the entity and records a snapshot of its final field values.
// Unloaded associations are captured as null, not as an error.
func (r *Recorder) Delete(ctx context.Context, actor any, entity any) (*Result, error) {
	actor = r.resolveActor(ctx, actor)
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditrail: begin: %w", err)
	}
	if err := uow.Delete(ctx, entity); err != nil {
		_ = uow.Rollback(ctx)
		return nil, err
	}
	// The row is gone; the snapshot comes from the in-memory entity.
	entry, auditErr := r.writeEntry(ctx, uow, actor, entity, nil, ChangeDelete, true)
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("auditrail: commit: %w", err)
	}
	return r.finish(entity, entry, auditErr, ChangeDelete), nil
}

// Log records an audit entry without performing any primary write; the caller
// is assumed to have performed it already. With nil changes the entry captures
// a snapshot of the entity's current field values.
func (r *Recorder) Log(ctx context.Context, actor any, entity any, changes map[string]any, kind ChangeType) (*Result, error) {
	actor = r.resolveActor(ctx, actor)
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditrail: begin: %w", err)
	}
	entry, auditErr := r.writeEntry(ctx, uow, actor, entity, changes, kind, changes == nil)
	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("auditrail: commit: %w", err)
	}
	return r.finish(entity, entry, auditErr, kind), nil
}

// LogBulk applies Log to positionally paired entities and change sets. Items
// are processed in order, each in its own unit of work; one item's failure
// never blocks or rolls back the others. A nil changes slice snapshots every
// entity.
func (r *Recorder) LogBulk(ctx context.Context, actor any, entities []any, changes []map[string]any, kind ChangeType) ([]*Result, error) {
	if changes != nil && len(changes) != len(entities) {
		return nil, fmt.Errorf("auditrail: %d entities paired with %d change sets", len(entities), len(changes))
	}
	results := make([]*Result, 0, len(entities))
	for i, entity := range entities {
		var ch map[string]any
		if changes != nil {
			ch = changes[i]
		}
		res, err := r.Log(ctx, actor, entity, ch, kind)
		if err != nil {
			r.cfg.Logger.WithError(err).WithFields(logrus.Fields{
				"index":       i,
				"change_type": string(kind),
			}).Warn("auditrail: bulk log item failed")
			res = &Result{Entity: entity, AuditErr: err}
		}
		results = append(results, res)
	}
	return results, nil
}

// writeEntry runs extraction, redaction, and validating construction against
// the materialized entity, then inserts the entry in the given unit of work.
// Every failure here is an audit failure, never a primary one.
func (r *Recorder) writeEntry(ctx context.Context, uow UnitOfWork, actor any, entity any, changes map[string]any, kind ChangeType, snapshotAll bool) (*Entry, error) {
	fs, err := r.store.Describe(entity)
	if err != nil {
		return nil, err
	}

	var diff map[string]any
	if snapshotAll {
		diff, err = snapshot(entity, fs)
		if err != nil {
			return nil, err
		}
	} else {
		diff = extractChanges(changes, fs)
	}
	diff = redact(diff, r.redacted)

	vals, err := EntityValues(entity)
	if err != nil {
		return nil, err
	}
	entry, err := newEntry(actor, fs.Source, vals[fs.IDField], diff, kind)
	if err != nil {
		return nil, err
	}
	return uow.InsertEntry(ctx, r.cfg.TableName, entry)
}

// finish applies the asymmetric failure policy: an audit failure is reported
// through the side channel and returned as informational payload on an
// otherwise successful result.
func (r *Recorder) finish(entity any, entry *Entry, auditErr error, kind ChangeType) *Result {
	if auditErr != nil {
		r.cfg.Logger.WithError(auditErr).WithFields(logrus.Fields{
			"change_type": string(kind),
			"table":       r.cfg.TableName,
		}).Warn("auditrail: audit write failed; primary operation committed")
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.WriteFailures.Inc()
		}
		return &Result{Entity: entity, AuditErr: auditErr}
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.EntriesWritten.Inc()
	}
	return &Result{Entity: entity, Entry: entry}
}

func (r *Recorder) resolveActor(ctx context.Context, actor any) any {
	if actor != nil {
		return actor
	}
	if v, ok := ActorFromContext(ctx); ok {
		return v
	}
	return nil
}
