// Package apperr holds sentinel errors shared across packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrNotOpen  = fmt.Errorf("notebook is not open: %w", ErrNotFound)
)
