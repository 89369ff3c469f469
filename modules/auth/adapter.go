package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/realtime-hub/domain/hub"
)

// AuthPort defines the interface for authentication operations.
// This is the port that other modules use to access auth functionality.
type AuthPort interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
	UpsertAccount(ctx context.Context, req UpsertAccountRequest) (*domain.Account, error)
}

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) AuthPort {
	if container == nil {
		panic("auth: ServiceContainer is nil")
	}
	return &AuthAdapter{container: container}
}

// Resolve maps a token to an identity. Rejections come back as
// domain.ErrInvalidCredentials or domain.ErrAccountInactive.
func (a *AuthAdapter) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	req := ResolveRequest{Token: token}
	var resp ResolveResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceResolve,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("resolve request failed: %w", err)
	}

	switch resp.Code {
	case "":
	case CodeAccountInactive:
		return nil, domain.ErrAccountInactive
	default:
		return nil, domain.ErrInvalidCredentials
	}
	if resp.Identity == nil {
		return nil, domain.ErrInvalidCredentials
	}
	return resp.Identity, nil
}

// UpsertAccount creates or updates an account.
func (a *AuthAdapter) UpsertAccount(ctx context.Context, req UpsertAccountRequest) (*domain.Account, error) {
	var resp UpsertAccountResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceUpsertAccount,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("upsert-account request failed: %w", err)
	}
	return &resp.Account, nil
}
