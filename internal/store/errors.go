package store

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError means no installed record matches a query.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no installed spec matches %q", e.Query)
}

// AmbiguousQueryError means a query that must name one record matches
// several. Matches holds "hash7 name@version" for each candidate.
type AmbiguousQueryError struct {
	Query   string
	Matches []string
}

func (e *AmbiguousQueryError) Error() string {
	return fmt.Sprintf("%q matches %d installed specs: %s",
		e.Query, len(e.Matches), strings.Join(e.Matches, ", "))
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguous reports whether err wraps an AmbiguousQueryError.
func IsAmbiguous(err error) bool {
	var amb *AmbiguousQueryError
	return errors.As(err, &amb)
}
