// Package bankerr defines the error taxonomy shared by the coordinator and the
// worker nodes. Every failure that reaches an HTTP boundary is classified into
// one Kind, and each Kind maps to exactly one status code.
package bankerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for transport translation.
type Kind string

const (
	KindBadRequest               Kind = "BAD_REQUEST"
	KindServiceUnavailable       Kind = "SERVICE_UNAVAILABLE"
	KindAccountNotFound          Kind = "ACCOUNT_NOT_FOUND"
	KindInsufficientFunds        Kind = "INSUFFICIENT_FUNDS"
	KindRemoteCallFailure        Kind = "REMOTE_CALL_FAILURE"
	KindPersistenceFailure       Kind = "PERSISTENCE_FAILURE"
	KindInternalAggregateFailure Kind = "INTERNAL_AGGREGATE_FAILURE"
	KindInternal                 Kind = "INTERNAL"
)

// Error is a classified failure. TxID is set when the failure happened inside
// a ledger transfer and the generated transaction id must still be surfaced.
type Error struct {
	Kind Kind
	Msg  string
	TxID string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.TxID != "" {
		msg = fmt.Sprintf("%s (transaction %s)", msg, e.TxID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrServiceUnavailable       = &Error{Kind: KindServiceUnavailable}
	ErrAccountNotFound          = &Error{Kind: KindAccountNotFound}
	ErrInsufficientFunds        = &Error{Kind: KindInsufficientFunds}
	ErrRemoteCallFailure        = &Error{Kind: KindRemoteCallFailure}
	ErrPersistenceFailure       = &Error{Kind: KindPersistenceFailure}
	ErrInternalAggregateFailure = &Error{Kind: KindInternalAggregateFailure}
)

// New builds a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithTx returns a copy of e carrying the transaction id.
func (e *Error) WithTx(txID string) *Error {
	cp := *e
	cp.TxID = txID
	return &cp
}

// KindOf reports the Kind of the outermost classified error in err's chain.
// Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindAccountNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message of err: the classified message
// when present, the raw error text otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		if e.TxID != "" {
			return fmt.Sprintf("%s (transaction %s)", e.Msg, e.TxID)
		}
		return e.Msg
	}
	return err.Error()
}
