package services

import "errors"

// Errors shared across services and mapped by the transport layer.
var (
	// Connection admission
	ErrConnectionRejected = errors.New("connection rejected")
	ErrNoRoomMembership   = errors.New("user has no room membership")
	ErrAlreadyOnline      = errors.New("participant is already online")
	ErrNoAssignment       = errors.New("user has no bracket assignment")
	ErrUnknownSession     = errors.New("no identity bound to this connection")

	// Match lookup
	ErrUnknownMatch = errors.New("no runtime exists for this match")

	// Credential verification
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenExpired   = errors.New("token has expired")
	ErrBadCredentials = errors.New("credentials are missing or malformed")

	// Bracket construction
	ErrInvalidBracketSize = errors.New("participant count must be 2, 4, 8 or 16")

	// Upstream collaborators
	ErrAIServiceFailed = errors.New("AI service request failed")

	// Input validation
	ErrInvalidDirection = errors.New("paddle direction must be an integer")
)
