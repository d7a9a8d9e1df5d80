// Package bterr defines the error taxonomy shared across the downloader
// pipeline: every exported function in bencode's consumers returns a *bterr.Error
// (or wraps one) rather than a bare string, so callers can branch on Kind
// instead of matching error text.
package bterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// MalformedInput covers bencode parse failures, invalid metainfo
	// structure, and tracker response parse failures.
	MalformedInput Kind = iota
	// Unsupported covers metainfo shapes this client does not implement,
	// e.g. multi-file torrents.
	Unsupported
	// NetworkFailure covers connect/read/write errors, tracker HTTP
	// errors, and timeouts.
	NetworkFailure
	// ProtocolViolation covers a peer deviating from the wire protocol:
	// bad handshake, unexpected message, oversize frame, mismatched
	// piece/offset.
	ProtocolViolation
	// IntegrityFailure covers a piece whose SHA-1 does not match the
	// metainfo's recorded hash.
	IntegrityFailure
	// TrackerRejected covers a tracker response carrying a failure reason.
	TrackerRejected
	// IO covers output file create/seek/write errors.
	IO
)

func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "malformed input"
	case Unsupported:
		return "unsupported"
	case NetworkFailure:
		return "network failure"
	case ProtocolViolation:
		return "protocol violation"
	case IntegrityFailure:
		return "integrity failure"
	case TrackerRejected:
		return "tracker rejected"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind and a short operation label so the chain
// reads as "op: kind: cause" while still letting KindOf branch on Kind
// without string matching.
type Error struct {
	Op    string
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.cause)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Format supports "%+v" to print the full pkg/errors-style stack of the
// wrapped cause, used by the CLI's verbose error path.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s: %s: %+v", e.Op, e.Kind, e.cause)
		return
	}
	fmt.Fprint(s, e.Error())
}

func newErr(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, cause: cause}
}

// Wrap attaches op and kind to cause, adding a stack trace via pkg/errors if
// cause doesn't already carry one.
func Wrap(op string, kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	if _, hasStack := cause.(interface{ StackTrace() errors.StackTrace }); hasStack {
		return newErr(op, kind, cause)
	}
	return newErr(op, kind, errors.WithStack(cause))
}

// New creates a new Error with no wrapped cause, e.g. for validation
// failures detected without an underlying library error.
func New(op string, kind Kind, msg string) *Error {
	return newErr(op, kind, errors.New(msg))
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(op string, kind Kind, format string, args ...interface{}) *Error {
	return newErr(op, kind, errors.Errorf(format, args...))
}

// NewMalformedInput is New with Kind fixed to MalformedInput.
func NewMalformedInput(op, msg string) *Error { return New(op, MalformedInput, msg) }

// NewUnsupported is New with Kind fixed to Unsupported.
func NewUnsupported(op, msg string) *Error { return New(op, Unsupported, msg) }

// NewNetworkFailure is New with Kind fixed to NetworkFailure.
func NewNetworkFailure(op, msg string) *Error { return New(op, NetworkFailure, msg) }

// NewProtocolViolation is New with Kind fixed to ProtocolViolation.
func NewProtocolViolation(op, msg string) *Error { return New(op, ProtocolViolation, msg) }

// NewIntegrityFailure is New with Kind fixed to IntegrityFailure.
func NewIntegrityFailure(op, msg string) *Error { return New(op, IntegrityFailure, msg) }

// NewTrackerRejected is New with Kind fixed to TrackerRejected.
func NewTrackerRejected(op, msg string) *Error { return New(op, TrackerRejected, msg) }

// NewIO is New with Kind fixed to IO.
func NewIO(op, msg string) *Error { return New(op, IO, msg) }

// KindOf reports the Kind of err if it (or something it wraps) is a
// *bterr.Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
