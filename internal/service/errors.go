package service

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTrialAlreadyUsed  = errors.New("trial already used for this program")
	ErrJobAlreadyRunning = errors.New("job is already running")
	ErrPaymentProvider   = errors.New("payment provider error")
	ErrScriptPlatform    = errors.New("scripting platform error")
)
