package models

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBusy              = errors.New("resource busy, try again")
	ErrNotFound          = errors.New("not found")
	ErrNotConnected      = errors.New("actor is not connected")
	ErrInvalidInput      = errors.New("invalid input")
	ErrVersionConflict   = errors.New("order was modified concurrently")
	ErrDuplicateKey      = errors.New("idempotency key already recorded")
)
