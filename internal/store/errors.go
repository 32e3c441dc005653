package store

import "errors"

var (
	ErrNotFound  = errors.New("store: resource not found")
	ErrDuplicate = errors.New("store: duplicate resource")
	// ErrConflict is returned by conditional updates whose expected prior
	// state no longer matches the stored row.
	ErrConflict = errors.New("store: conflicting resource state")
)
