package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the catalog reports that a search matched nothing.
	ErrNotFound = errors.New("no results found")
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("page structure not recognized")
)

// ParseError describes a page whose required structure is missing.
type ParseError struct {
	ID       string
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse failure for %q: selector %q", e.ID, e.Selector)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }
