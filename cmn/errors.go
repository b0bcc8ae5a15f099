// Package cmn provides the error kinds and small shared helpers used across
// the synchronization core.
package cmn

import (
	"github.com/pkg/errors"
)

// Kind classifies a failure the way §7 of the design requires: the state
// machines and the reconciler branch on kind, not on the concrete error.
type Kind uint8

const (
	KindNone Kind = iota
	KindUnauthorized
	KindTransport
	KindDecode
	KindConflict
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindConflict:
		return "conflict"
	case KindFatal:
		return "fatal"
	default:
		return "none"
	}
}

// kindErr is the sentinel wrapped in front of a cause so that Classify can
// recover the kind without string-matching.
type kindErr struct {
	kind  Kind
	cause error
}

func (e *kindErr) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindErr) Unwrap() error { return e.cause }

// WithKind wraps err so that Classify(err) returns kind. Passing a nil err
// returns nil (mirrors errors.Wrap's convention).
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&kindErr{kind: kind, cause: err})
}

// Errorf builds a new kind-classified error with a formatted message,
// analogous to errors.Errorf but kind-tagged.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return WithKind(kind, errors.Errorf(format, args...))
}

// Classify walks err's cause chain (via errors.Cause / Unwrap) looking for
// the nearest kindErr and returns its kind, or KindNone if err carries no
// classification.
func Classify(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindErr); ok {
			return ke.kind
		}
		type causer interface{ Cause() error }
		type unwrapper interface{ Unwrap() error }
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
			continue
		}
		break
	}
	return KindNone
}

// IsUnauthorized is a convenience predicate used by service.Base.prepare.
func IsUnauthorized(err error) bool { return Classify(err) == KindUnauthorized }
