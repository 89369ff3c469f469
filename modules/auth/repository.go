package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/example/realtime-hub/domain/hub"
)

// ErrAccountNotFound is returned when an account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository provides access to account storage.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID retrieves an account by its ID.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

// Upsert creates the account or replaces its role, handle and active flag.
func (r *AccountRepository) Upsert(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "display_handle", "active", "updated_at"}),
	}).Create(account).Error
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// TouchLastSeen records when a user was last connected.
func (r *AccountRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", id).
		Update("last_seen_at", at.UTC())
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
