package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// Kind classifies a gateway failure. Every error that crosses the gateway
// boundary carries exactly one kind; the transport layer maps kinds to
// status codes without inspecting anything else.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindInvalidPath     Kind = "invalid_path"
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindNotADirectory   Kind = "not_a_directory"
	KindIsADirectory    Kind = "is_a_directory"
	KindTooLarge        Kind = "too_large"
	KindDenied          Kind = "denied"
	KindTimedOut        Kind = "timed_out"
	KindInternal        Kind = "internal"
)

// Error is a typed gateway failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a typed error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapE builds a typed error around an underlying cause.
func wrapE(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error. Auth sentinels and path
// rejections map to their kinds; everything unclassified is internal.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, security.ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, security.ErrForbidden):
		return KindForbidden
	case errors.Is(err, security.ErrInvalidPath):
		return KindInvalidPath
	case errors.Is(err, security.ErrInvalidGrant), errors.Is(err, security.ErrGrantReused):
		return KindUnauthenticated
	}
	return KindInternal
}

// classifyOSError maps common filesystem errors onto kinds. The fallback
// is internal: the caller logs the detail and returns a generic message.
func classifyOSError(err error, path string) *Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return wrapE(KindNotFound, err, "path not found: %s", path)
	case errors.Is(err, fs.ErrExist):
		return wrapE(KindAlreadyExists, err, "path already exists: %s", path)
	case errors.Is(err, syscall.ENOTDIR):
		return wrapE(KindNotADirectory, err, "not a directory: %s", path)
	case errors.Is(err, syscall.EISDIR):
		return wrapE(KindIsADirectory, err, "is a directory: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return wrapE(KindForbidden, err, "permission denied: %s", path)
	}
	return wrapE(KindInternal, err, "operation failed on %s", path)
}
