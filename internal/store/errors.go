package store

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no rows because
// another writer changed the record first.
var ErrConflict = errors.New("conflicting update")
