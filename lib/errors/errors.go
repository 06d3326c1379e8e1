// Package errors provides structured error types for the tonpool client.
//
// This package provides:
//   - Sentinel errors for the failure classes a pool can surface
//   - Error codes for categorizing construction and call failures
//   - RemoteError, the failure reported by a lite-server for a single call
//   - Classification helpers used by the retry policy
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing errors.
const (
	CodeInternal              = 1 // Invariant violation
	CodeConfiguration         = 2 // Unparsable or unserializable configuration
	CodeCheckpointUnavailable = 3 // No bootstrap server returned a checkpoint
	CodeFilesystem            = 4 // Keystore provisioning failed
	CodeRemote                = 5 // Lite-server reported a failure
	CodeClosed                = 6 // Pool already closed
)

// StatusOverloaded is the lite-server status code reported when the server is
// temporarily busy. It is the only status the retry policy treats as transient.
const StatusOverloaded int32 = 500

// Sentinel errors for the failure classes.
// Use errors.Is() to check for these conditions.
var (
	// ErrInternal indicates an invariant violation.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates an invalid configuration document or option.
	ErrConfiguration = errors.New("configuration error")

	// ErrCheckpointUnavailable indicates that none of the bootstrap servers
	// answered a checkpoint query.
	ErrCheckpointUnavailable = errors.New("checkpoint unavailable")

	// ErrFilesystem indicates a keystore directory could not be provisioned.
	ErrFilesystem = errors.New("filesystem error")

	// ErrClosed indicates the pool has been closed.
	ErrClosed = errors.New("closed")

	// ErrUnhealthy indicates a node failed post-connect verification.
	ErrUnhealthy = errors.New("node failed verification")
)

// Error is a structured error with a code and a message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message describes the failure
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against the sentinel of the same class, so that
// errors.Is(err, ErrConfiguration) holds for any configuration Error.
func (e *Error) Is(target error) bool {
	return sentinelFor(e.Code) == target
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Configuration wraps err as a configuration failure.
func Configuration(message string, err error) *Error {
	return Wrap(CodeConfiguration, message, err)
}

// Filesystem wraps err as a keystore provisioning failure.
func Filesystem(message string, err error) *Error {
	return Wrap(CodeFilesystem, message, err)
}

// Internal wraps err as an invariant violation.
func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// CheckpointUnavailable reports that no bootstrap server produced a checkpoint.
// cause carries the per-server failures, if any were collected.
func CheckpointUnavailable(cause error) *Error {
	return Wrap(CodeCheckpointUnavailable,
		"failed to update init_block: update it manually in the network config "+
			"(https://docs.ton.org/develop/howto/network-configs)",
		cause)
}

func sentinelFor(code int) error {
	switch code {
	case CodeConfiguration:
		return ErrConfiguration
	case CodeCheckpointUnavailable:
		return ErrCheckpointUnavailable
	case CodeFilesystem:
		return ErrFilesystem
	case CodeClosed:
		return ErrClosed
	case CodeInternal:
		return ErrInternal
	default:
		return nil
	}
}

// RemoteError is a failure reported by a lite-server while executing a call.
type RemoteError struct {
	// Code is the status reported by the server
	Code int32 `json:"code"`
	// Message is the server's description
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("lite-server error %d: %s", e.Code, e.Message)
}

// Remote creates a RemoteError.
func Remote(code int32, message string) *RemoteError {
	return &RemoteError{Code: code, Message: message}
}

// RemoteCode extracts the status code of the first RemoteError in err's tree.
func RemoteCode(err error) (int32, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}

// IsTransient reports whether err is a lite-server overload failure.
func IsTransient(err error) bool {
	code, ok := RemoteCode(err)
	return ok && code == StatusOverloaded
}

// CodeOf returns the category code of err.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return CodeRemote
	}
	return CodeInternal
}

// IsConfiguration returns true if the error is a configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsCheckpointUnavailable returns true if no bootstrap server answered.
func IsCheckpointUnavailable(err error) bool {
	return errors.Is(err, ErrCheckpointUnavailable)
}

// IsFilesystem returns true if the error is a keystore provisioning failure.
func IsFilesystem(err error) bool {
	return errors.Is(err, ErrFilesystem)
}

// IsClosed returns true if the error indicates a closed pool.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
