package tools

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("version conflict")
	ErrLocked       = errors.New("device is locked by another settlement")
)

// CollaboratorError is a failed call against another service. A 404 unwraps
// to ErrNotFound so callers can tolerate already-absent resources.
type CollaboratorError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *CollaboratorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return e.Err
}
