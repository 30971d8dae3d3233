// Package memstore provides an in-memory Store implementation. It backs the
// behavioral test suites and demos; mutations stage inside the unit of work
// and apply on commit, so rollback semantics match a transactional engine.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/mickamy/auditrail"
)

// Store keeps entities per resource and audit entries in memory.
type Store struct {
	mu        sync.Mutex
	resources map[string]map[string]any
	entries   []*auditrail.Entry
	seq       int64

	insertErr error
	entryErr  error
}

func New() *Store {
	return &Store{resources: map[string]map[string]any{}}
}

// FailNextInsert makes the next primary insert fail with err.
func (s *Store) FailNextInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// FailNextEntryInsert makes the next audit entry insert fail with err.
func (s *Store) FailNextEntryInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryErr = err
}

// Entries returns the committed audit entries in insertion order.
func (s *Store) Entries() []*auditrail.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auditrail.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns a committed entity by resource name and identifier.
func (s *Store) Get(resource, id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ents, ok := s.resources[resource]
	if !ok {
		return nil, false
	}
	e, ok := ents[id]
	return e, ok
}

func (s *Store) Describe(entity any) (auditrail.FieldSets, error) {
	return auditrail.DescribeSchema(entity)
}

func (s *Store) Begin(_ context.Context) (auditrail.UnitOfWork, error) {
	return &unit{store: s}, nil
}

// unit stages mutations until commit.
type unit struct {
	store *Store
	ops   []func(*Store)
	done  bool
}

func (u *unit) Insert(_ context.Context, entity any) (any, error) {
	if err := u.store.takeInsertErr(); err != nil {
		return nil, err
	}
	fs, vals, err := u.describe(entity)
	if err != nil {
		return nil, err
	}
	entity, key, err := u.store.materializeID(entity, fs, vals)
	if err != nil {
		return nil, err
	}
	if _, exists := u.store.Get(fs.Source, key); exists {
		return nil, fmt.Errorf("insert %s/%s: %w", fs.Source, key, auditrail.ErrDuplicate)
	}
	u.stagePut(fs.Source, key, entity)
	return entity, nil
}

func (u *unit) Update(_ context.Context, entity any, _ map[string]any) (any, error) {
	fs, vals, err := u.describe(entity)
	if err != nil {
		return nil, err
	}
	key := keyOf(vals[fs.IDField])
	if _, exists := u.store.Get(fs.Source, key); !exists {
		return nil, fmt.Errorf("update %s/%s: %w", fs.Source, key, auditrail.ErrNotFound)
	}
	u.stagePut(fs.Source, key, entity)
	return entity, nil
}

func (u *unit) Upsert(_ context.Context, entity any) (any, error) {
	fs, vals, err := u.describe(entity)
	if err != nil {
		return nil, err
	}
	entity, key, err := u.store.materializeID(entity, fs, vals)
	if err != nil {
		return nil, err
	}
	u.stagePut(fs.Source, key, entity)
	return entity, nil
}

func (u *unit) Delete(_ context.Context, entity any) error {
	fs, vals, err := u.describe(entity)
	if err != nil {
		return err
	}
	key := keyOf(vals[fs.IDField])
	if _, exists := u.store.Get(fs.Source, key); !exists {
		return fmt.Errorf("delete %s/%s: %w", fs.Source, key, auditrail.ErrNotFound)
	}
	u.ops = append(u.ops, func(s *Store) {
		delete(s.resources[fs.Source], key)
	})
	return nil
}

func (u *unit) InsertEntry(_ context.Context, _ string, entry *auditrail.Entry) (*auditrail.Entry, error) {
	if err := u.store.takeEntryErr(); err != nil {
		return nil, err
	}
	stored := *entry
	stored.ID = uuid.NewString()
	u.ops = append(u.ops, func(s *Store) {
		s.entries = append(s.entries, &stored)
	})
	return &stored, nil
}

func (u *unit) Commit(_ context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, op := range u.ops {
		op(u.store)
	}
	u.ops = nil
	return nil
}

func (u *unit) Rollback(_ context.Context) error {
	if !u.done {
		u.ops = nil
		u.done = true
	}
	return nil
}

func (u *unit) describe(entity any) (auditrail.FieldSets, map[string]any, error) {
	fs, err := auditrail.DescribeSchema(entity)
	if err != nil {
		return auditrail.FieldSets{}, nil, err
	}
	vals, err := auditrail.EntityValues(entity)
	if err != nil {
		return auditrail.FieldSets{}, nil, err
	}
	return fs, vals, nil
}

func (u *unit) stagePut(resource, key string, entity any) {
	u.ops = append(u.ops, func(s *Store) {
		if s.resources[resource] == nil {
			s.resources[resource] = map[string]any{}
		}
		s.resources[resource][key] = entity
	})
}

func (s *Store) takeInsertErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.insertErr
	s.insertErr = nil
	return err
}

func (s *Store) takeEntryErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.entryErr
	s.entryErr = nil
	return err
}

// materializeID fills a zero identifier, mimicking storage-generated keys:
// string identifiers get a UUID, integer identifiers a sequence value.
func (s *Store) materializeID(entity any, fs auditrail.FieldSets, vals map[string]any) (any, string, error) {
	if fs.IDField == "" {
		return nil, "", fmt.Errorf("memstore: %s has no identifier field", fs.Source)
	}
	id := vals[fs.IDField]
	if id != nil && !reflect.ValueOf(id).IsZero() {
		return entity, keyOf(id), nil
	}

	var generated any
	switch reflect.ValueOf(id).Kind() {
	case reflect.String:
		generated = uuid.NewString()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s.mu.Lock()
		s.seq++
		generated = s.seq
		s.mu.Unlock()
	default:
		return nil, "", fmt.Errorf("memstore: cannot generate identifier for %s.%s", fs.Source, fs.IDField)
	}

	entity, err := auditrail.ApplyValues(entity, map[string]any{fs.IDField: generated})
	if err != nil {
		return nil, "", err
	}
	return entity, keyOf(generated), nil
}

func keyOf(id any) string {
	switch t := id.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
