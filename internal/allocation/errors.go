package allocation

import "errors"

var (
	// ErrNotFound indicates the bill, item, participant, claim, pool or
	// membership does not exist, or belongs to another bill.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientQuantity indicates the request exceeds the item's
	// remaining quantity.
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrPoolAlreadyExists indicates the item already has a shared pool.
	ErrPoolAlreadyExists = errors.New("shared pool already exists")

	// ErrBillLocked indicates the bill no longer accepts allocation changes.
	ErrBillLocked = errors.New("bill is locked")

	// ErrInvalidArgument indicates a missing ID or a non-positive quantity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable indicates the store could not be reached or stayed
	// contended for every retry. The operation was not applied.
	ErrUnavailable = errors.New("allocation temporarily unavailable")

	// ErrInconsistentState indicates a change would leave a pool and its
	// membership out of step. It is a bug, not a retryable condition.
	ErrInconsistentState = errors.New("inconsistent allocation state")
)
