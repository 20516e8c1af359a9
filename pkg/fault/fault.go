// Package fault defines the error taxonomy shared by the registry,
// signing pipeline, and repository builder. Callers branch on Kind via
// errors.As / the helper predicates rather than string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	// KindValidation marks malformed or missing input; never retried.
	KindValidation Kind = iota + 1
	// KindNotFound marks an unknown identifier; never retried.
	KindNotFound
	// KindStorage marks a binary-store failure; callers may retry.
	KindStorage
	// KindSigning marks an external signer failure or timeout; a repeat
	// sign is a deliberate caller action, never automatic.
	KindSigning
	// KindConflict marks a concurrent manifest mutation; callers should
	// retry with a fresh read.
	KindConflict
	// KindUpstream marks a best-effort collaborator failure; operations
	// degrade instead of failing hard.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	case KindSigning:
		return "signing"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a fault of the given kind from a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. A nil err
// yields nil so call sites can wrap return values unconditionally.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err, or zero if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation fault.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found fault.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsStorage reports whether err is a storage fault.
func IsStorage(err error) bool { return KindOf(err) == KindStorage }

// IsSigning reports whether err is a signing fault.
func IsSigning(err error) bool { return KindOf(err) == KindSigning }

// IsConflict reports whether err is a conflict fault.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsUpstream reports whether err is an upstream fault.
func IsUpstream(err error) bool { return KindOf(err) == KindUpstream }
