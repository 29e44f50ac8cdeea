package app

// Setting is an optional configuration value. The zero Setting is unset, and
// a set zero value counts as absent when resolving.
type Setting[T comparable] struct {
	value T
	set   bool
}

// Set stores v.
func (s *Setting[T]) Set(v T) {
	s.value = v
	s.set = true
}

// Value returns the stored value and whether one was set.
func (s Setting[T]) Value() (T, bool) {
	return s.value, s.set
}

// Or returns the stored value, or def when the setting is unset or holds the
// zero value.
func (s Setting[T]) Or(def T) T {
	var zero T
	if !s.set || s.value == zero {
		return def
	}
	return s.value
}
