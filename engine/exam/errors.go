package exam

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound         = errors.New("exam: not found")
	ErrInvalidCode      = errors.New("exam: invalid code")
	ErrExpired          = errors.New("exam: expired")
	ErrInactive         = errors.New("exam: no longer active")
	ErrAlreadySubmitted = errors.New("exam: already submitted")
	ErrInvalidRequest   = errors.New("exam: invalid request")
	ErrInvalidScore     = errors.New("exam: score must be between 0 and 100")
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "exam: invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }
