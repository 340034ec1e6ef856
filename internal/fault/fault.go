// Package fault classifies every rejection the engine can produce so that
// callers can tell whether to retry, adjust parameters, or escalate.
package fault

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	// KindValidation: malformed parameters, unknown event, inactive product.
	KindValidation Kind = iota + 1
	// KindPolicy: notional/slippage/exposure caps, stale price, insufficient
	// confidence, governance delay not elapsed.
	KindPolicy
	// KindDependency: an external venue, layer, or sink failed and the
	// operation degraded or gave up.
	KindDependency
	// KindFatal: invariant breach (insolvency at final transfer, accounting
	// mismatch). Never retried.
	KindFatal
	// KindTripped: a circuit breaker or the global emergency latch blocks
	// the operation class.
	KindTripped
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindDependency:
		return "dependency"
	case KindFatal:
		return "fatal"
	case KindTripped:
		return "tripped"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the wrap chain and returns the outermost classified kind,
// or 0 when the error carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
