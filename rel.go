package auditrail

// Rel wraps an associated entity that may not have been fetched when the
// change is recorded. The loaded state is carried on the type itself, so the
// extractor never has to guess from a sentinel value: a NotLoaded relation
// shows up as null in the changeset.
type Rel[T any] struct {
	value  T
	loaded bool
}

// Loaded wraps a fetched association value.
func Loaded[T any](v T) Rel[T] {
	return Rel[T]{value: v, loaded: true}
}

// NotLoaded marks an association that was never fetched.
func NotLoaded[T any]() Rel[T] {
	return Rel[T]{}
}

// Loaded reports whether the association was fetched.
func (r Rel[T]) Loaded() bool {
	return r.loaded
}

// Value returns the association value and whether it was fetched.
func (r Rel[T]) Value() (T, bool) {
	return r.value, r.loaded
}

// relation is the reflection-facing view of Rel, independent of T.
type relation interface {
	relValue() (any, bool)
}

func (r Rel[T]) relValue() (any, bool) {
	if !r.loaded {
		return nil, false
	}
	return r.value, true
}
