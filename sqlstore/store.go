// Package sqlstore implements the auditrail Store over database/sql, written
// against Postgres (the pgx stdlib driver in practice). Entity CRUD is driven
// by the entity's declared schema and RETURNING *, so generated identifiers
// and default timestamps come back materialized.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mickamy/auditrail"
	"github.com/mickamy/auditrail/internal/ident"
)

// Store adapts a *sql.DB to the auditrail storage contract.
type Store struct {
	db      *sql.DB
	schemas sync.Map // reflect.Type -> auditrail.FieldSets
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Describe resolves and caches the declared schema of an entity type.
func (s *Store) Describe(entity any) (auditrail.FieldSets, error) {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil {
		if cached, ok := s.schemas.Load(t); ok {
			return cached.(auditrail.FieldSets), nil
		}
	}
	fs, err := auditrail.DescribeSchema(entity)
	if err != nil {
		return auditrail.FieldSets{}, err
	}
	if t != nil {
		s.schemas.Store(t, fs)
	}
	return fs, nil
}

func (s *Store) Begin(ctx context.Context) (auditrail.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin: %w", err)
	}
	return &unit{tx: tx, store: s}, nil
}

type unit struct {
	tx    *sql.Tx
	store *Store
}

func (u *unit) Insert(ctx context.Context, entity any) (any, error) {
	fs, err := u.store.Describe(entity)
	if err != nil {
		return nil, err
	}
	cols, args, err := columnArgs(entity, fs, true)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s)\nVALUES (%s)\nRETURNING *",
		ident.QuoteName(fs.Source), quoteList(cols), placeholders(1, len(cols)),
	)
	return u.returningOne(ctx, entity, q, args...)
}

func (u *unit) Update(ctx context.Context, entity any, changes map[string]any) (any, error) {
	fs, err := u.store.Describe(entity)
	if err != nil {
		return nil, err
	}
	vals, err := auditrail.EntityValues(entity)
	if err != nil {
		return nil, err
	}
	cols := changedColumns(fs, changes)
	if len(cols) == 0 {
		// Nothing to set, but the row is still re-read so database-side
		// values come back materialized like on every other write path.
		q := fmt.Sprintf(
			"SELECT *\nFROM %s\nWHERE %s = $1",
			ident.QuoteName(fs.Source), ident.Quote(fs.IDField),
		)
		return u.returningOne(ctx, entity, q, vals[fs.IDField])
	}
	args := make([]any, 0, len(cols)+1)
	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		v, err := columnValue(fs, c, vals[c])
		if err != nil {
			return nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", ident.Quote(c), i+1))
		args = append(args, v)
	}
	args = append(args, vals[fs.IDField])
	q := fmt.Sprintf(
		"UPDATE %s\nSET %s\nWHERE %s = $%d\nRETURNING *",
		ident.QuoteName(fs.Source), joinList(sets), ident.Quote(fs.IDField), len(args),
	)
	return u.returningOne(ctx, entity, q, args...)
}

func (u *unit) Upsert(ctx context.Context, entity any) (any, error) {
	fs, err := u.store.Describe(entity)
	if err != nil {
		return nil, err
	}
	cols, args, err := columnArgs(entity, fs, false)
	if err != nil {
		return nil, err
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == fs.IDField {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident.Quote(c), ident.Quote(c)))
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s)\nVALUES (%s)\nON CONFLICT (%s) DO UPDATE SET %s\nRETURNING *",
		ident.QuoteName(fs.Source), quoteList(cols), placeholders(1, len(cols)),
		ident.Quote(fs.IDField), joinList(sets),
	)
	return u.returningOne(ctx, entity, q, args...)
}

func (u *unit) Delete(ctx context.Context, entity any) error {
	fs, err := u.store.Describe(entity)
	if err != nil {
		return err
	}
	vals, err := auditrail.EntityValues(entity)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", ident.QuoteName(fs.Source), ident.Quote(fs.IDField))
	res, err := u.tx.ExecContext(ctx, q, vals[fs.IDField])
	if err != nil {
		return translate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlstore: delete %s: %w", fs.Source, auditrail.ErrNotFound)
	}
	return nil
}

// InsertEntry appends the audit entry inside the shared transaction. The
// insert runs under a savepoint: a failing entry insert must not poison the
// transaction, or the primary write could never commit afterwards.
func (u *unit) InsertEntry(ctx context.Context, table string, entry *auditrail.Entry) (*auditrail.Entry, error) {
	doc, err := json.Marshal(entry.Changeset)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: marshal changeset: %w", err)
	}
	if _, err := u.tx.ExecContext(ctx, "SAVEPOINT auditrail_entry"); err != nil {
		return nil, fmt.Errorf("sqlstore: savepoint: %w", err)
	}
	q := fmt.Sprintf(`
INSERT INTO %s (actor_id, resource, resource_id, changeset, change_type, inserted_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, ident.QuoteName(table))
	var id any
	err = u.tx.QueryRowContext(ctx, q,
		entry.ActorID, entry.Resource, entry.ResourceID, doc, string(entry.ChangeType), entry.InsertedAt,
	).Scan(&id)
	if err != nil {
		if _, rbErr := u.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT auditrail_entry"); rbErr != nil {
			return nil, fmt.Errorf("sqlstore: rollback to savepoint: %w", rbErr)
		}
		return nil, translate(err)
	}
	if _, err := u.tx.ExecContext(ctx, "RELEASE SAVEPOINT auditrail_entry"); err != nil {
		return nil, fmt.Errorf("sqlstore: release savepoint: %w", err)
	}
	stored := *entry
	stored.ID = fmt.Sprintf("%v", id)
	return &stored, nil
}

func (u *unit) Commit(_ context.Context) error {
	return u.tx.Commit()
}

func (u *unit) Rollback(_ context.Context) error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// returningOne executes a RETURNING * statement and materializes the single
// returned row back into a copy of the entity.
func (u *unit) returningOne(ctx context.Context, entity any, q string, args ...any) (any, error) {
	rows, err := u.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, translate(err)
	}
	ms, err := scanAll(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan returned row: %w", err)
	}
	if len(ms) == 0 {
		return nil, auditrail.ErrNotFound
	}
	return auditrail.ApplyValues(entity, ms[0])
}

// columnArgs renders the entity's persistable columns and their driver
// values. With skipZeroID, a zero identifier is omitted so the database can
// generate one.
func columnArgs(entity any, fs auditrail.FieldSets, skipZeroID bool) ([]string, []any, error) {
	vals, err := auditrail.EntityValues(entity)
	if err != nil {
		return nil, nil, err
	}
	cols := make([]string, 0, len(fs.Fields)+len(fs.Embeds))
	cols = append(cols, fs.Fields...)
	cols = append(cols, fs.Embeds...)
	sort.Strings(cols)

	outCols := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		v := vals[c]
		if c == fs.IDField && skipZeroID && (v == nil || reflect.ValueOf(v).IsZero()) {
			continue
		}
		v, err := columnValue(fs, c, v)
		if err != nil {
			return nil, nil, err
		}
		outCols = append(outCols, c)
		args = append(args, v)
	}
	return outCols, args, nil
}

// columnValue converts a field value into its driver representation; embedded
// sub-objects persist as JSON documents.
func columnValue(fs auditrail.FieldSets, column string, v any) (any, error) {
	for _, e := range fs.Embeds {
		if e == column {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("sqlstore: marshal embed %s: %w", column, err)
			}
			return b, nil
		}
	}
	return v, nil
}

// changedColumns filters a change mapping down to persistable columns,
// sorted for deterministic statements. Associations are not columns.
func changedColumns(fs auditrail.FieldSets, changes map[string]any) []string {
	cols := make([]string, 0, len(changes))
	for c := range changes {
		for _, f := range fs.Fields {
			if f == c {
				cols = append(cols, c)
			}
		}
		for _, e := range fs.Embeds {
			if e == c {
				cols = append(cols, c)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// translate maps driver errors to the storage sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("sqlstore: %s: %w", pgErr.ConstraintName, auditrail.ErrDuplicate)
	}
	return err
}
