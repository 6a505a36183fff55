package credit

import "errors"

var (
	// ErrNotFound is returned when a credit id does not exist
	ErrNotFound = errors.New("credit not found")

	// ErrNotOwner is returned when the caller does not own the credit
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotAdmin is returned when an administrative operation is
	// invoked by anyone but the designated administrator
	ErrNotAdmin = errors.New("caller is not the administrator")

	ErrInvalidAmount    = errors.New("invalid amount: must be greater than 0")
	ErrInvalidPrice     = errors.New("invalid price: must be greater than 0")
	ErrInvalidType      = errors.New("invalid credit type: must not be blank")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrEmptyBatch       = errors.New("batch must not be empty")

	// State preconditions
	ErrNotListed     = errors.New("credit is not listed")
	ErrAlreadyListed = errors.New("credit is already listed")
	ErrSelfPurchase  = errors.New("cannot purchase own credit")
	ErrDepleted      = errors.New("credit has no remaining amount")
	ErrPaused        = errors.New("ledger is paused")

	// ErrInsufficientPayment is returned when the supplied payment does
	// not cover requested amount times price per unit
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrInsufficientQuantity is returned when the requested amount
	// exceeds what the listing has left
	ErrInsufficientQuantity = errors.New("requested amount exceeds available quantity")

	ErrInternal = errors.New("internal error")
)
