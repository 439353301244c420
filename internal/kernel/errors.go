// Package kernel mediates every call into the exchange adapter with bounded
// retry, error classification, and tick/step quantization (spec §4.1, §7).
package kernel

import "errors"

// ErrorKind is the closed error taxonomy every adapter call is classified
// into. It replaces the original's "truthy" string-constant signalling
// (Design Note "Truthy error signalling") with a single sum type.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNetwork
	KindRateLimit
	KindInsufficientFunds
	KindInvalidOrder
	KindBase
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindRateLimit:
		return "RateLimitExceeded"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindInvalidOrder:
		return "InvalidOrder"
	case KindBase:
		return "BaseError"
	case KindUnexpected:
		return "UnexpectedError"
	default:
		return "None"
	}
}

// Error wraps an ErrorKind with the underlying cause and enough context
// (symbol, intended action) for the chat notifier to surface it (spec §7).
type Error struct {
	Kind    ErrorKind
	Symbol  string
	Action  string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Symbol != "" {
		msg += " symbol=" + e.Symbol
	}
	if e.Action != "" {
		msg += " action=" + e.Action
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets callers write errors.Is(err, kernel.ErrNetwork) and friends.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*sentinelError)
	if !ok {
		return false
	}
	return e.Kind == sentinel.kind
}

type sentinelError struct{ kind ErrorKind }

func (s *sentinelError) Error() string { return s.kind.String() }

var (
	ErrNetwork             = &sentinelError{KindNetwork}
	ErrRateLimit           = &sentinelError{KindRateLimit}
	ErrInsufficientFunds   = &sentinelError{KindInsufficientFunds}
	ErrInvalidOrder        = &sentinelError{KindInvalidOrder}
	ErrBase                = &sentinelError{KindBase}
	ErrUnexpected          = &sentinelError{KindUnexpected}
)

// Classifier maps a raw adapter error to an ErrorKind. Adapters implement
// Classifier so the kernel stays exchange-agnostic.
type Classifier interface {
	Classify(err error) ErrorKind
}

// KindOf extracts the ErrorKind from an error produced by this package,
// defaulting to KindUnexpected for anything else.
func KindOf(err error) ErrorKind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return KindUnexpected
}

// Fatal reports whether the classified error should abort the current
// strategy intent outright (spec §7: InvalidOrder/BaseError/UnexpectedError
// are fatal for that intent; InsufficientFunds is fatal for everything
// except market_buy's own retry loop; Network/RateLimit abort the tick).
func Fatal(kind ErrorKind) bool {
	switch kind {
	case KindInvalidOrder, KindBase, KindUnexpected, KindInsufficientFunds:
		return true
	default:
		return false
	}
}
