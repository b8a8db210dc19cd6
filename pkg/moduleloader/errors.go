package moduleloader

import (
	"errors"
	"fmt"
)

var (
	// ErrCanonicalize is returned when a specifier cannot be turned into an
	// absolute path, typically because the working directory is unavailable
	ErrCanonicalize = errors.New("cannot canonicalize module path")

	// ErrModuleNotFound is returned when a canonical path does not name a
	// readable regular file
	ErrModuleNotFound = errors.New("module file not found")

	// ErrNilRealm is returned when Resolve is called without a realm
	ErrNilRealm = errors.New("realm is required")
)

// ErrorKind classifies resolution failures the way a host engine reports them
type ErrorKind int

const (
	// KindCommon is a generic engine error
	KindCommon ErrorKind = iota
	// KindSyntax is a syntax error. Missing module files are reported with
	// this kind unless the resolver runs in strict mode.
	KindSyntax
	// KindNotFound is a dedicated not-found error, used in strict mode
	KindNotFound
)

// String returns the engine-facing error class name
func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return "SyntaxError"
	case KindNotFound:
		return "ModuleNotFoundError"
	default:
		return "Error"
	}
}

// Error is a resolution failure raised by the Resolver itself.
// Parse failures are not wrapped; the engine's error is returned as is.
type Error struct {
	// Kind is the error class reported to the host engine
	Kind ErrorKind

	// Message is the engine-facing message
	Message string

	// Specifier is the specifier being resolved
	Specifier string

	// Path is the canonical path, empty when canonicalization failed
	Path string

	// Err is the underlying cause
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Specifier)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or KindCommon when err is not an *Error
func KindOf(err error) ErrorKind {
	var resolveErr *Error
	if errors.As(err, &resolveErr) {
		return resolveErr.Kind
	}
	return KindCommon
}
