package datatable

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIdentifier is returned when a row lacks the configured identifier.
	ErrMissingIdentifier = errors.New("row has no identifier")
	// ErrViewNotFound is returned by a ViewStore when no state exists for a table.
	ErrViewNotFound  = errors.New("view state not found")
	ErrNoColumns     = errors.New("table has no columns")
	ErrStarted       = errors.New("table already started")
	ErrClosed        = errors.New("table closed")
	ErrNotStarted    = errors.New("table not started")
	ErrUnknownColumn = errors.New("unknown column")
	ErrUnknownFilter = errors.New("unknown filter")
	ErrLastColumn    = errors.New("cannot hide the last visible column")
	ErrRowNotFound   = errors.New("row not found")
)

// IdentifierError reports the first row of a data set without an identifier.
type IdentifierError struct {
	Identifier string
	Index      int
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("wrong identifier %q on row %d", e.Identifier, e.Index)
}

func (e *IdentifierError) Unwrap() error {
	return ErrMissingIdentifier
}
