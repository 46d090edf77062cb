package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and clients return these
// (optionally wrapped) so the reconciliation jobs can decide how an item is reported.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store or upstream
// - ErrAlreadyUsed: idempotency key (purchase reference) already recorded
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: service, lock or resource temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
