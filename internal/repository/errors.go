package repository

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyProcessed    = errors.New("webhook event already processed")
	ErrStaleTransition     = errors.New("row is no longer in the expected state")
)
