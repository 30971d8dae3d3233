package auditrail

import (
	"fmt"
	"strconv"
	"time"
)

// ChangeType tags the kind of mutation an audit entry describes.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

func (t ChangeType) valid() bool {
	switch t {
	case ChangeInsert, ChangeUpdate, ChangeUpsert, ChangeDelete:
		return true
	}
	return false
}

// Entry is one immutable audit record. Entries are created inside the same
// unit of work as the primary write, never updated, never deleted.
type Entry struct {
	ID         string
	ActorID    string
	Resource   string
	ResourceID string
	Changeset  map[string]any
	ChangeType ChangeType
	InsertedAt time.Time
}

// ConstructionError reports an audit entry that failed validation before it
// could be handed to storage.
type ConstructionError struct {
	Field  string
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("auditrail: invalid audit entry: %s %s", e.Field, e.Reason)
}

// newEntry assembles and validates an entry. Actor and resource identifiers
// are normalized to text; InsertedAt is set once, in UTC.
func newEntry(actor any, resource string, resourceID any, changeset map[string]any, kind ChangeType) (*Entry, error) {
	if changeset == nil {
		changeset = map[string]any{}
	}
	e := &Entry{
		ActorID:    normalizeID(actor),
		Resource:   resource,
		ResourceID: normalizeID(resourceID),
		Changeset:  changeset,
		ChangeType: kind,
		InsertedAt: time.Now().UTC(),
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entry) validate() error {
	switch {
	case e.ActorID == "":
		return &ConstructionError{Field: "actor_id", Reason: "must not be empty"}
	case e.Resource == "":
		return &ConstructionError{Field: "resource", Reason: "must not be empty"}
	case e.ResourceID == "":
		return &ConstructionError{Field: "resource_id", Reason: "must not be empty"}
	case !e.ChangeType.valid():
		return &ConstructionError{Field: "change_type", Reason: fmt.Sprintf("unknown value %q", string(e.ChangeType))}
	}
	return nil
}

// normalizeID renders an identifier in its canonical textual form.
func normalizeID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", t)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
