package hub

import "errors"

// Errors shared between the hub and its collaborators. Service adapters map
// response codes back to these so callers can use errors.Is across the bus.
var (
	ErrInvalidCredentials = errors.New("invalid or expired credentials")
	ErrAccountInactive    = errors.New("account is not active")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotRecipient       = errors.New("reader is not the message recipient")
)
