// Package bridgeerr holds the error kinds a bridge operation can stop with.
// Every component returns *Error so the orchestrator can decide between
// retrying the same transition and giving up.
package bridgeerr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindUnsupportedChain      Kind = "UnsupportedChain"
	KindInsufficientAllowance Kind = "InsufficientAllowance"
	KindSubmissionFailed      Kind = "SubmissionFailed"
	KindSimulatedRevert       Kind = "SimulatedRevert"
	KindMalformedReceipt      Kind = "MalformedReceipt"
	KindAttestationTimeout    Kind = "AttestationTimeout"
	KindChainSwitchRejected   Kind = "ChainSwitchRejected"
	KindPartialSuccess        Kind = "PartialSuccess"
	KindRelayerUnconfigured   Kind = "RelayerUnconfigured"
	KindReverted              Kind = "Reverted"
	KindConfirmationTimeout   Kind = "ConfirmationTimeout"
	KindCanceled              Kind = "Canceled"
	KindInternal              Kind = "Internal"
)

var retryableKinds = map[Kind]bool{
	KindSubmissionFailed:    true,
	KindAttestationTimeout:  true,
	KindChainSwitchRejected: true,
	KindConfirmationTimeout: true,
	KindCanceled:            true,
}

type Error struct {
	Kind      Kind
	Op        string
	Err       error
	Retryable bool
	// wall clock spent before giving up, set for timeouts
	Elapsed time.Duration
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Elapsed > 0 {
		msg += fmt.Sprintf(" after %s", e.Elapsed.Round(time.Millisecond))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op string, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg), Retryable: retryableKinds[kind]}
}

func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...), Retryable: retryableKinds[kind]}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Retryable: retryableKinds[kind]}
}

// Timeout builds a retryable timeout error of the given kind carrying the elapsed time
func Timeout(kind Kind, op string, elapsed time.Duration, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Retryable: retryableKinds[kind], Elapsed: elapsed}
}

// Sentinel for errors.Is comparisons
func OfKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf returns KindInternal for errors that did not come from this package
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func ElapsedOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.Elapsed
	}
	return 0
}
