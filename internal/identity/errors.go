package identity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrAccountDisabled    = errors.New("identity: account disabled")
	ErrAccountLocked      = errors.New("identity: account locked")
	ErrMfaRequired        = errors.New("identity: mfa code required")
	ErrInvalidMfaCode     = errors.New("identity: invalid mfa code")
	ErrTokenExpired       = errors.New("identity: token expired")
	ErrInternal           = errors.New("identity: internal error")
)

// StorageError wraps a persistence fault. Repositories never surface
// driver-specific error types; callers see the failed operation only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("identity: storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err with the description of the failed operation.
// Sentinel errors pass through untouched so callers can match them.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
