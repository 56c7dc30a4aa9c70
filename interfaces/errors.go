package interfaces

import "errors"

var (
	ErrNotFound = errors.New("not found")

	ErrNotOwner  = errors.New("caller is not the option owner")
	ErrNotWriter = errors.New("caller is not the option writer")
	ErrNotPoster = errors.New("caller is not the trade poster")

	ErrNotTreasury = errors.New("caller is not the fee treasury")

	ErrAlreadyResolved = errors.New("option already resolved")
	ErrNotOpen         = errors.New("trade is not open")

	ErrExpired    = errors.New("option expired")
	ErrNotExpired = errors.New("option not expired")

	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")

	// ErrInsufficientCustody means the lock/release pairing was broken. It is never
	// expected in correct operation.
	ErrInsufficientCustody = errors.New("insufficient custody")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidKind    = errors.New("invalid option kind")
	ErrInvalidAccount = errors.New("invalid account")
	ErrUnknownToken   = errors.New("unknown token")
)
