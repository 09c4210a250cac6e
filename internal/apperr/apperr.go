// Package apperr defines the error taxonomy shared by the reactor, kernel
// supervisor, wire codec, and persistence layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide how to react without
// string-matching messages.
type Kind string

const (
	// KindCodec marks a malformed frame or payload. Per-connection fatal;
	// the owning kernel is transitioned to Crashed.
	KindCodec Kind = "codec_error"
	// KindNotFound marks a missing notebook, run, or kernel lookup.
	KindNotFound Kind = "not_found"
	// KindKernelNotInit marks a Login for a handle that is not Init.
	KindKernelNotInit Kind = "kernel_not_init"
	// KindSpawnFailure marks a child process that could not start.
	KindSpawnFailure Kind = "spawn_failure"
	// KindUnexpectedExit marks a child that exited before normal teardown.
	KindUnexpectedExit Kind = "unexpected_exit"
	// KindVersionMismatch marks a persisted notebook with an unrecognized
	// version string.
	KindVersionMismatch Kind = "version_mismatch"
	// KindIO marks any other persistence I/O failure.
	KindIO Kind = "io_error"
)

// Error is the concrete error type produced by this module's core
// subsystems. It wraps an underlying cause when one exists.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperr.NotFound("")) style matching on Kind
// alone, ignoring Message and Err.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func CodecError(message string, err error) *Error   { return newErr(KindCodec, message, err) }
func NotFound(message string) *Error                { return newErr(KindNotFound, message, nil) }
func KernelNotInit(message string) *Error           { return newErr(KindKernelNotInit, message, nil) }
func SpawnFailure(message string, err error) *Error { return newErr(KindSpawnFailure, message, err) }
func UnexpectedExit(message string) *Error          { return newErr(KindUnexpectedExit, message, nil) }
func VersionMismatch(message string) *Error         { return newErr(KindVersionMismatch, message, nil) }
func IOError(message string, err error) *Error      { return newErr(KindIO, message, err) }

// Of reports whether err carries the given Kind anywhere in its chain.
func Of(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
