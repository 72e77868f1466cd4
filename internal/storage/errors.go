package storage

import "errors"

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrPasswordLoginUnsupported = errors.New("account does not support password login")
	ErrUsernameTaken            = errors.New("username already in use")

	// ErrUserNotFound and ErrVideoNotFound are returned by operations that
	// address an entity by id.
	ErrUserNotFound  = errors.New("user not found")
	ErrVideoNotFound = errors.New("video not found")

	// ErrSelfFollow rejects follow toggles where follower and target are the
	// same account.
	ErrSelfFollow = errors.New("cannot follow yourself")

	// ErrInsufficientBalance rejects gift transfers that would overdraw the
	// sender's wallet. The transfer leaves both accounts untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
