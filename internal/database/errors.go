package database

import "errors"

// Sentinel errors surfaced by the repository. Callers branch with
// errors.Is; everything else is a storage error wrapped with context.
var (
	ErrNotFound          = errors.New("record not found")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrCapReached        = errors.New("open position cap reached")
	ErrDuplicatePosition = errors.New("open position already exists for symbol")
	ErrUsernameTaken     = errors.New("username already taken")
)
