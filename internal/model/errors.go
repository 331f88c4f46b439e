package model

import "errors"

// Data errors: reported to the caller, no state change.
var (
	ErrStaleUpdate     = errors.New("stale price update")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrFeedUnavailable = errors.New("feed unavailable")
	ErrStalePrice      = errors.New("stale price")
)

// Protocol errors: the operation is rejected and all state is left unchanged.
var (
	ErrUntrustedDestination = errors.New("untrusted destination")
	ErrUntrustedSource      = errors.New("untrusted source")
	ErrInsufficientFee      = errors.New("insufficient fee")
	ErrOutOfOrder           = errors.New("out of order delivery")
	ErrMalformedEnvelope    = errors.New("malformed envelope")
)

// Execution errors: destination side effects are rolled back.
var (
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrVenueUnavailable = errors.New("swap venue unavailable")
	ErrUnknownToken     = errors.New("unknown token")
)

// Ledger errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("zero amount")
	ErrZeroShares          = errors.New("zero shares")
	ErrZeroAssets          = errors.New("zero assets")
	ErrOverflow            = errors.New("amount overflow")
)

// ErrStateConflict is returned by state stores when a snapshot was committed
// by someone else since it was loaded.
var ErrStateConflict = errors.New("state version conflict")

// ErrorKind groups errors for operational tooling.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindData      ErrorKind = "data"
	KindProtocol  ErrorKind = "protocol"
	KindExecution ErrorKind = "execution"
	KindLedger    ErrorKind = "ledger"
	KindInternal  ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrStaleUpdate, KindData},
	{ErrUnauthorized, KindData},
	{ErrFeedUnavailable, KindData},
	{ErrStalePrice, KindData},
	{ErrUntrustedDestination, KindProtocol},
	{ErrUntrustedSource, KindProtocol},
	{ErrInsufficientFee, KindProtocol},
	{ErrOutOfOrder, KindProtocol},
	{ErrMalformedEnvelope, KindProtocol},
	{ErrSlippageExceeded, KindExecution},
	{ErrVenueUnavailable, KindExecution},
	{ErrUnknownToken, KindExecution},
	{ErrInsufficientBalance, KindLedger},
	{ErrZeroAmount, KindLedger},
	{ErrZeroShares, KindLedger},
	{ErrZeroAssets, KindLedger},
	{ErrOverflow, KindLedger},
}

// Kind classifies err by the first taxonomy sentinel it wraps.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
