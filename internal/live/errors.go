package live

import (
	"errors"

	"vidloop-live/internal/storage"
)

var (
	// ErrNotAuthorized rejects a broadcast attempt by an account that has not
	// reached the follower threshold.
	ErrNotAuthorized = errors.New("broadcast rights required")

	// ErrAlreadyLive rejects a second concurrent session for the same
	// broadcaster.
	ErrAlreadyLive = errors.New("already live")

	// ErrSessionNotFound is returned for operations addressing a session that
	// does not exist or has ended.
	ErrSessionNotFound = errors.New("live session not found")

	// ErrNotOwner rejects teardown requests from anyone but the broadcaster.
	ErrNotOwner = errors.New("only the broadcaster can end the session")

	// ErrUnknownGift rejects gift kinds missing from the catalog.
	ErrUnknownGift = errors.New("unknown gift")

	// ErrInsufficientBalance and ErrSelfFollow originate in the datastore and
	// surface through the coordinator unchanged.
	ErrInsufficientBalance = storage.ErrInsufficientBalance
	ErrSelfFollow          = storage.ErrSelfFollow
)
