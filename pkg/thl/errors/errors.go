// Package errors provides error types and error codes for the transaction
// history log. This is a leaf package with no internal dependencies so that
// the record codec, the lock and the disk log can all share one taxonomy.
//
// Import graph: errors <- record <- event <- disklog <- thl
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrConsistency indicates structural corruption of the log: a
	// zero-length non-tail segment, non-contiguous segments or an
	// out-of-order sequence number.
	ErrConsistency ErrorCode = iota + 1

	// ErrChecksum indicates a record whose stored checksum does not match
	// its payload. It is a consistency error.
	ErrChecksum

	// ErrChecksumType indicates an unrecognized checksum-type byte. It is a
	// consistency error.
	ErrChecksumType

	// ErrTimeout indicates a blocking read or write did not complete in time.
	ErrTimeout

	// ErrPosition indicates an optimistic seek found a record that does not
	// match the sought position.
	ErrPosition

	// ErrConcurrency indicates a second write cursor was requested.
	ErrConcurrency

	// ErrReadOnly indicates a write on a read-only cursor or log. It is a
	// concurrency error.
	ErrReadOnly

	// ErrIO indicates an underlying storage failure.
	ErrIO

	// ErrClosed indicates use of a released cursor or a closed log.
	ErrClosed

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrConsistency:
		return "LogConsistency"
	case ErrChecksum:
		return "Checksum"
	case ErrChecksumType:
		return "ChecksumType"
	case ErrTimeout:
		return "LogTimeout"
	case ErrPosition:
		return "LogPosition"
	case ErrConcurrency:
		return "Concurrency"
	case ErrReadOnly:
		return "ReadOnly"
	case ErrIO:
		return "IO"
	case ErrClosed:
		return "Closed"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// NoSeqno marks a LogError that is not tied to a sequence number.
const NoSeqno int64 = -1

// LogError represents a log error with an error code.
type LogError struct {
	Code    ErrorCode
	Message string
	Path    string
	Seqno   int64
	Err     error
}

// Error implements the error interface.
func (e *LogError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Seqno != NoSeqno {
		msg = fmt.Sprintf("%s (seqno: %d)", msg, e.Seqno)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path: %s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *LogError) Unwrap() error {
	return e.Err
}

// WithPath returns a copy of the error annotated with a file path.
func (e *LogError) WithPath(path string) *LogError {
	c := *e
	c.Path = path
	return &c
}

// WithSeqno returns a copy of the error annotated with a sequence number.
func (e *LogError) WithSeqno(seqno int64) *LogError {
	c := *e
	c.Seqno = seqno
	return &c
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewConsistencyError creates a LogConsistency error.
func NewConsistencyError(format string, args ...any) *LogError {
	return &LogError{
		Code:    ErrConsistency,
		Message: fmt.Sprintf(format, args...),
		Seqno:   NoSeqno,
	}
}

// NewChecksumError creates a Checksum error for a record whose checksum
// does not match.
func NewChecksumError(expected, actual uint64) *LogError {
	return &LogError{
		Code:    ErrChecksum,
		Message: fmt.Sprintf("checksum mismatch: stored %#016x, computed %#016x", expected, actual),
		Seqno:   NoSeqno,
	}
}

// NewChecksumTypeError creates a ChecksumType error.
func NewChecksumTypeError(b byte) *LogError {
	return &LogError{
		Code:    ErrChecksumType,
		Message: fmt.Sprintf("unknown checksum type %d", b),
		Seqno:   NoSeqno,
	}
}

// NewTimeoutError creates a LogTimeout error.
func NewTimeoutError(format string, args ...any) *LogError {
	return &LogError{
		Code:    ErrTimeout,
		Message: fmt.Sprintf(format, args...),
		Seqno:   NoSeqno,
	}
}

// NewPositionError creates a LogPosition error for a seek target that did
// not materialize.
func NewPositionError(wantSeqno int64, wantFragno int16, gotSeqno int64, gotFragno int16) *LogError {
	return &LogError{
		Code: ErrPosition,
		Message: fmt.Sprintf("sought seqno %d fragno %d but found seqno %d fragno %d",
			wantSeqno, wantFragno, gotSeqno, gotFragno),
		Seqno: wantSeqno,
	}
}

// NewConcurrencyError creates a Concurrency error.
func NewConcurrencyError(message string) *LogError {
	return &LogError{
		Code:    ErrConcurrency,
		Message: message,
		Seqno:   NoSeqno,
	}
}

// NewReadOnlyError creates a ReadOnly error.
func NewReadOnlyError(op string) *LogError {
	return &LogError{
		Code:    ErrReadOnly,
		Message: fmt.Sprintf("%s attempted on read-only log or cursor", op),
		Seqno:   NoSeqno,
	}
}

// NewIOError wraps an underlying storage error.
func NewIOError(op, path string, err error) *LogError {
	return &LogError{
		Code:    ErrIO,
		Message: op,
		Path:    path,
		Seqno:   NoSeqno,
		Err:     err,
	}
}

// NewClosedError creates a Closed error.
func NewClosedError(what string) *LogError {
	return &LogError{
		Code:    ErrClosed,
		Message: fmt.Sprintf("%s is closed", what),
		Seqno:   NoSeqno,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(format string, args ...any) *LogError {
	return &LogError{
		Code:    ErrInvalidArgument,
		Message: fmt.Sprintf(format, args...),
		Seqno:   NoSeqno,
	}
}

// ============================================================================
// Predicates
// ============================================================================

// CodeOf returns the code of the first LogError in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var logErr *LogError
	if stderrors.As(err, &logErr) {
		return logErr.Code
	}
	return 0
}

// IsConsistencyError returns true for structural corruption, including
// checksum and checksum-type failures.
func IsConsistencyError(err error) bool {
	switch CodeOf(err) {
	case ErrConsistency, ErrChecksum, ErrChecksumType:
		return true
	}
	return false
}

// IsChecksumError returns true if the error is a checksum mismatch.
func IsChecksumError(err error) bool {
	return CodeOf(err) == ErrChecksum
}

// IsChecksumTypeError returns true if the error is an unknown checksum type.
func IsChecksumTypeError(err error) bool {
	return CodeOf(err) == ErrChecksumType
}

// IsTimeoutError returns true if a blocking operation timed out.
func IsTimeoutError(err error) bool {
	return CodeOf(err) == ErrTimeout
}

// IsPositionError returns true if an optimistic seek could not be honoured.
func IsPositionError(err error) bool {
	return CodeOf(err) == ErrPosition
}

// IsConcurrencyError returns true for a second writer or a write on a
// read-only cursor or log.
func IsConcurrencyError(err error) bool {
	switch CodeOf(err) {
	case ErrConcurrency, ErrReadOnly:
		return true
	}
	return false
}

// IsReadOnlyError returns true if a write was attempted on a read-only
// cursor or log.
func IsReadOnlyError(err error) bool {
	return CodeOf(err) == ErrReadOnly
}

// IsIOError returns true for underlying storage failures.
func IsIOError(err error) bool {
	return CodeOf(err) == ErrIO
}

// IsClosedError returns true if the cursor or log was already closed.
func IsClosedError(err error) bool {
	return CodeOf(err) == ErrClosed
}

// IsInvalidArgumentError returns true for rejected arguments.
func IsInvalidArgumentError(err error) bool {
	return CodeOf(err) == ErrInvalidArgument
}
