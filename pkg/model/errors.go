package model

import "fmt"

// ErrorKind classifies a domain failure. Callers translate kinds into
// user-facing responses; the engine never retries them.
type ErrorKind int

const (
	KindInput    ErrorKind = iota + 1 // bad composition, role, or unit id
	KindTarget                        // missing, own, or protected target
	KindTiming                        // impossible departure or arrival
	KindResource                      // not enough units on hand
	KindNotFound                      // referenced row vanished during resolution
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindTarget:
		return "target"
	case KindTiming:
		return "timing"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not found"
	}
	return "unknown"
}

// Error is a classified domain error.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String() + " error"
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is matches a bare sentinel of the same kind, so that
// errors.Is(err, ErrResource) holds for every resource error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInput    = &Error{Kind: KindInput}
	ErrTarget   = &Error{Kind: KindTarget}
	ErrTiming   = &Error{Kind: KindTiming}
	ErrResource = &Error{Kind: KindResource}
	ErrNotFound = &Error{Kind: KindNotFound}
)

func newError(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// InputErrorf reports an invalid composition, role or unit id.
func InputErrorf(format string, args ...interface{}) error {
	return newError(KindInput, format, args...)
}

// TargetErrorf reports a missing, self or protected target.
func TargetErrorf(format string, args ...interface{}) error {
	return newError(KindTarget, format, args...)
}

// TimingErrorf reports an impossible schedule.
func TimingErrorf(format string, args ...interface{}) error {
	return newError(KindTiming, format, args...)
}

// ResourceErrorf reports insufficient units.
func ResourceErrorf(format string, args ...interface{}) error {
	return newError(KindResource, format, args...)
}

// NotFoundErrorf reports a row that must exist but does not.
func NotFoundErrorf(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}
