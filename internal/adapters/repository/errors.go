package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrStoreWrite      = errors.New("store write failed")
	ErrSchemaEvolution = errors.New("schema evolution failed")
	ErrOpen            = errors.New("open store")
	ErrInvalidLimit    = errors.New("invalid limit")
)

// SchemaError reports an extra field that could not get its own column.
// The value remains available in the row's extra payload.
type SchemaError struct {
	Key    string
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("column %s for %q: %v", e.Column, e.Key, e.Err)
}

// Unwrap lets errors.Is match ErrSchemaEvolution and the cause.
func (e *SchemaError) Unwrap() []error {
	return []error{ErrSchemaEvolution, e.Err}
}

var (
	errColumnCollision = errors.New("name collides with another field")
	errColumnLimit     = errors.New("extra column limit reached")
)
