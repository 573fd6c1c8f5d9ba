// Package errs is the error taxonomy shared by every pipeline stage.
package errs

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindTransient        Kind = "transient"
	KindRateLimited      Kind = "rate_limited"
	KindDataUnavailable  Kind = "data_unavailable"
	KindModelUnavailable Kind = "model_unavailable"
	KindConfiguration    Kind = "configuration"
)

// Fatal reports whether the kind aborts a run.
func (k Kind) Fatal() bool { return k == KindConfiguration }

// Retryable reports whether the retry policy may repeat the call.
func (k Kind) Retryable() bool { return k == KindTransient }

// Error is a classified failure. Op names the operation, Symbol and
// Provider are optional context.
type Error struct {
	Kind     Kind
	Op       string
	Symbol   string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		b.WriteString("]")
	}
	if e.Symbol != "" {
		b.WriteString(" ")
		b.WriteString(e.Symbol)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) *Error { return newError(KindTransient, op, err) }

func RateLimited(op string, err error) *Error { return newError(KindRateLimited, op, err) }

func DataUnavailable(op string, err error) *Error { return newError(KindDataUnavailable, op, err) }

func ModelUnavailable(op string, err error) *Error { return newError(KindModelUnavailable, op, err) }

func Configuration(op string, err error) *Error { return newError(KindConfiguration, op, err) }

// WithSymbol sets the symbol and returns e for chaining.
func (e *Error) WithSymbol(symbol string) *Error {
	e.Symbol = symbol
	return e
}

// WithProvider sets the provider and returns e for chaining.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}
