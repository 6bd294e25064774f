package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsortedEntries  = errors.New("entries are not sorted by message index")
	ErrDuplicateEntry   = errors.New("duplicate entry index")
	ErrMalformedEntry   = errors.New("entry payload does not match its kind")
	ErrInvertedHole     = errors.New("hole lower bound is above its upper bound")
	ErrMissingNamespace = errors.New("namespace is required")
)

// ValidationError is one failure, attributed to a field path such as
// "entries[3]" or "index.namespace".
type ValidationError struct {
	Field string
	Cause error
}

func (v ValidationError) Error() string {
	if v.Field == "" {
		return v.Cause.Error()
	}
	return v.Field + ": " + v.Cause.Error()
}

func (v ValidationError) Unwrap() error { return v.Cause }

// ValidationErrors collects every failure of one validation pass.
type ValidationErrors struct {
	Errors []ValidationError
}

// Add records err under field. Nested ValidationErrors are flattened with
// their fields prefixed.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	var nested *ValidationErrors
	if !errors.As(err, &nested) {
		v.Errors = append(v.Errors, ValidationError{Field: field, Cause: err})
		return
	}
	for _, sub := range nested.Errors {
		v.Errors = append(v.Errors, ValidationError{Field: joinField(field, sub.Field), Cause: sub.Cause})
	}
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, err := range v.Errors {
		parts = append(parts, err.Error())
	}
	if len(parts) == 0 {
		return "validation failed"
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v.Errors))
	for i, err := range v.Errors {
		errs[i] = err
	}
	return errs
}

// Validate checks a single message.
func (m *Message) Validate() error {
	var errs ValidationErrors
	if m.Index.Namespace == 0 {
		errs.Add("index.namespace", ErrMissingNamespace)
	}
	for i, media := range m.Media {
		if media.Kind == MediaAction && media.Action == "" {
			errs.Add(fmt.Sprintf("media[%d].action", i), fmt.Errorf("action media requires an action kind"))
		}
	}
	return errs.Err()
}

// ValidateEntries checks that a snapshot is sorted, well formed and free of duplicates.
func ValidateEntries(entries []RawEntry) error {
	var errs ValidationErrors
	for i, entry := range entries {
		field := fmt.Sprintf("entries[%d]", i)
		switch entry.Kind {
		case EntryMessage:
			if entry.Message == nil {
				errs.Add(field, ErrMalformedEntry)
				continue
			}
		case EntryHole:
			if entry.Hole == nil {
				errs.Add(field, ErrMalformedEntry)
				continue
			}
			if entry.Hole.Max.Less(entry.Hole.Min) {
				errs.Add(field, ErrInvertedHole)
			}
		default:
			errs.Add(field, ErrMalformedEntry)
			continue
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if (prev.Kind == EntryMessage && prev.Message == nil) || (prev.Kind == EntryHole && prev.Hole == nil) {
			continue
		}
		switch cmp := prev.Index().Compare(entry.Index()); {
		case cmp > 0:
			errs.Add(field, ErrUnsortedEntries)
		case cmp == 0:
			errs.Add(field, ErrDuplicateEntry)
		}
	}
	return errs.Err()
}

func joinField(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	default:
		return prefix + "." + field
	}
}
