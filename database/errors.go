package database

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrUnavailable  = errors.New("store unavailable")
)

// DuplicateKeyError names the unique field that rejected a write.
type DuplicateKeyError struct {
	Field string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key on %s", e.Field)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

const (
	FieldEmail = "email"
	FieldRole  = "role"
)
