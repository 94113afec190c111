package persona

import (
	"errors"
	"fmt"
)

// Kind classifies persona store failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlreadyExists
	KindNotFound
	KindConflict
	KindInvalidName
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInvalidName:
		return "InvalidName"
	default:
		return "Unknown"
	}
}

// Error is returned for the classified failures of Add and Update.
type Error struct {
	Kind Kind
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindAlreadyExists:
		return fmt.Sprintf("persona %s already exists", e.Name)
	case KindNotFound:
		return fmt.Sprintf("persona %s does not exist", e.Name)
	case KindConflict:
		return fmt.Sprintf("persona %s was modified concurrently", e.Name)
	case KindInvalidName:
		return fmt.Sprintf("persona name %q must not contain ':'", e.Name)
	}
	if e.Err != nil {
		return fmt.Sprintf("persona %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("persona %s: unknown error", e.Name)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}
