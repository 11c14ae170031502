// Package bherrors defines the typed error kinds shared across bhdir's
// components. Every kind is a plain sentinel, matched with errors.Is at
// call sites the way petomalina-pot's ErrNoRewriteViolated is matched by
// IsNoRewriteViolated.
package bherrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath means a path failed syntactic validation.
	ErrInvalidPath = errors.New("invalid path")

	// ErrProtectedAttr means an attempt was made to set/delete id, ctime or mtime
	// via the attribute API.
	ErrProtectedAttr = errors.New("protected attribute")

	// ErrNotFound means the variable or file is absent.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt means the Filer exhausted its retries waiting for a consistent
	// JSON read.
	ErrCorrupt = errors.New("corrupt")

	// ErrIo means an underlying filesystem syscall failed.
	ErrIo = errors.New("io error")

	// ErrTimeout means wait() reached its deadline without a notification.
	ErrTimeout = errors.New("timeout")

	// ErrProtocol means a control-socket request was malformed. Fatal to the
	// connection it occurred on, not to the daemon.
	ErrProtocol = errors.New("protocol error")

	// ErrUpgrade means the folder is being upgraded by another session.
	ErrUpgrade = errors.New("folder upgrade in progress")

	// ErrUnsupportedPlatform means a platform-specific binary was expected but
	// is absent.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Wrap annotates err with context while preserving errors.Is matching against
// the sentinel kinds above.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// Is reports whether err is, or wraps, kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
