package auditrail

import (
	"fmt"
	"reflect"
)

// Changeset is a pending change description: a base entity plus the proposed
// field changes, keyed by column name. It is read by the recorder and never
// persisted itself.
type Changeset struct {
	entity  any
	changes map[string]any
}

// Change starts a changeset for the given entity.
func Change(entity any) *Changeset {
	return &Changeset{entity: entity, changes: map[string]any{}}
}

// Set records a proposed change for one field.
func (c *Changeset) Set(field string, value any) *Changeset {
	c.changes[field] = value
	return c
}

// SetAll records a raw mapping of proposed changes.
func (c *Changeset) SetAll(changes map[string]any) *Changeset {
	for k, v := range changes {
		c.changes[k] = v
	}
	return c
}

// Entity returns the base entity.
func (c *Changeset) Entity() any {
	return c.entity
}

// Changes returns a copy of the proposed changes.
func (c *Changeset) Changes() map[string]any {
	out := make(map[string]any, len(c.changes))
	for k, v := range c.changes {
		out[k] = v
	}
	return out
}

// apply returns a copy of the base entity with the proposed changes set,
// preserving the pointer-ness of the input.
func (c *Changeset) apply() (any, error) {
	v, err := structValue(c.entity)
	if err != nil {
		return nil, err
	}
	out := reflect.New(v.Type())
	out.Elem().Set(v)
	for field, value := range c.changes {
		ok, err := setColumn(out.Elem(), field, value)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("auditrail: unknown field %q on %T", field, c.entity)
		}
	}
	if reflect.ValueOf(c.entity).Kind() == reflect.Pointer {
		return out.Interface(), nil
	}
	return out.Elem().Interface(), nil
}
