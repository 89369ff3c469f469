package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/sync/singleflight"

	domain "github.com/example/realtime-hub/domain/hub"
)

// lookupTimeout bounds one shared account lookup.
const lookupTimeout = 5 * time.Second

// Resolver turns a session token into the identity of an active account.
type Resolver struct {
	jwt     *JWTManager
	repo    *AccountRepository
	cache   *IdentityCache // nil disables caching
	sfGroup singleflight.Group
	logger  types.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(jwt *JWTManager, repo *AccountRepository, cache *IdentityCache, logger types.Logger) *Resolver {
	return &Resolver{jwt: jwt, repo: repo, cache: cache, logger: logger}
}

// Resolve validates the token and loads the account it names. Unknown,
// expired or malformed tokens yield domain.ErrInvalidCredentials.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := r.jwt.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}

	if r.cache != nil {
		id, found, err := r.cache.Get(ctx, claims.UserID)
		if err != nil {
			r.logger.Warn("Identity cache read failed", "userID", claims.UserID, "error", err)
		}
		if found {
			return id, nil
		}
	}

	// Concurrent handshakes for one user share a single account lookup. The
	// shared call runs on its own deadline so one caller giving up does not
	// fail the others.
	ch := r.sfGroup.DoChan(claims.UserID, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.repo.FindByID(lookupCtx, claims.UserID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	val, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
		}
		return nil, err
	}

	account := val.(*domain.Account)
	if !account.Active {
		return nil, domain.ErrAccountInactive
	}

	id := account.Identity()
	if r.cache != nil {
		if err := r.cache.Set(ctx, id); err != nil {
			r.logger.Warn("Identity cache write failed", "userID", id.UserID, "error", err)
		}
	}
	return &id, nil
}

// UpsertAccount saves an account and evicts its cached identity.
func (r *Resolver) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		return errors.New("account id is required")
	}
	if account.Role == "" {
		return errors.New("account role is required")
	}
	if err := r.repo.Upsert(ctx, account); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Delete(ctx, account.ID); err != nil {
			r.logger.Warn("Identity cache eviction failed", "userID", account.ID, "error", err)
		}
	}
	return nil
}
