// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed classification of swap and submission failures.
// The kind is decided once, where the error originates, so callers never
// have to match on message strings.
type ErrorKind int

const (
	// KindTransient covers failures worth retrying: pool not yet indexed,
	// quote temporarily unavailable, network timeouts.
	KindTransient ErrorKind = iota
	// KindNoLiquidity means the pool cannot fill the order. Not retried.
	KindNoLiquidity
	// KindInsufficientFunds means the signer cannot cover the spend. Not retried.
	KindInsufficientFunds
	// KindSlippage means the quote moved past the configured tolerance. Not retried.
	KindSlippage
	// KindExpired means the transaction's blockhash validity window elapsed
	// before submission landed. Fatal for the attempt; a fresh attempt must
	// rebuild with a new blockhash.
	KindExpired
	// KindUnconfirmed means the confirmation window elapsed with no known
	// outcome. Treated as a failure for retry purposes, logged distinctly
	// because the transaction may still land.
	KindUnconfirmed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNoLiquidity:
		return "no_liquidity"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindSlippage:
		return "slippage"
	case KindExpired:
		return "expired"
	case KindUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// SwapError carries an ErrorKind alongside the underlying cause.
type SwapError struct {
	Kind ErrorKind
	Err  error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap %s: %v", e.Kind, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// NewSwapError classifies err with the given kind.
func NewSwapError(kind ErrorKind, err error) *SwapError {
	return &SwapError{Kind: kind, Err: err}
}

// KindOf extracts the classification of err. Unclassified errors are
// treated as transient so that plain network failures stay retryable.
func KindOf(err error) ErrorKind {
	var se *SwapError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsPermanent reports whether err must not be retried against the same pool.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindNoLiquidity, KindInsufficientFunds, KindSlippage:
		return true
	default:
		return false
	}
}
