package db

import "fmt"

// MissingInputError reports that a load source does not exist.
type MissingInputError struct {
	Path string
	Err  error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("input %q not found", e.Path)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a row whose shape differs from the expected one.
type SchemaMismatchError struct {
	Line   int
	Got    int
	Want   int
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: expected %d columns, got %d", e.Line, e.Want, e.Got)
}

// StorageUnavailableError reports that the table could not be opened, read or written.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }
