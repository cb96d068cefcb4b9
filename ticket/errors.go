package ticket

import "errors"

// Error taxonomy. Every rejection produced by the fulfillment engine and the redemption protocol
// is joined with exactly one of these, so callers can branch with errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrTransientLedger = errors.New("transient ledger failure")
	ErrDataCorruption  = errors.New("data corruption")
)

// Store errors returned by every pending request store implementation.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
)
