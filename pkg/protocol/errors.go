package protocol

// Protocol error codes.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrNotConnected    = "NOT_CONNECTED"
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrRateLimited     = "RATE_LIMITED"
	ErrInternal        = "INTERNAL"
)
