package auth

import domain "github.com/example/realtime-hub/domain/hub"

// Service names registered by the auth module.
const (
	ServiceResolve       = "resolve"
	ServiceUpsertAccount = "upsert-account"
)

// Response codes for rejected tokens.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountInactive    = "account_inactive"
)

// ResolveRequest carries a client session token.
type ResolveRequest struct {
	Token string `json:"token"`
}

// ResolveResponse carries the identity, or a code when the token was rejected.
type ResolveResponse struct {
	Identity *domain.Identity `json:"identity,omitempty"`
	Code     string           `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// UpsertAccountRequest creates or updates an account.
type UpsertAccountRequest struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	DisplayHandle string `json:"display_handle"`
	Active        bool   `json:"active"`
}

// UpsertAccountResponse returns the stored account.
type UpsertAccountResponse struct {
	Account domain.Account `json:"account"`
}
