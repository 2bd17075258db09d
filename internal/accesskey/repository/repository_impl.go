package repository

import (
	"context"
	"errors"
	"time"

	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() accesskeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *accesskeydomain.AccessKey) error {
	return db.WithContext(ctx).Create(key).Error
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*accesskeydomain.AccessKey, error) {
	return r.findOne(ctx, db, "token = ?", token)
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*accesskeydomain.AccessKey, error) {
	return r.findOne(ctx, db, "payment_id = ?", paymentID)
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*accesskeydomain.AccessKey, error) {
	var key accesskeydomain.AccessKey
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

func (r *repo) FindActiveOrUsedBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*accesskeydomain.AccessKey, error) {
	var key accesskeydomain.AccessKey
	err := db.WithContext(ctx).
		Where("subscription_id = ? AND status IN (?, ?)",
			subscriptionID,
			accesskeydomain.KeyStatusActive,
			accesskeydomain.KeyStatusUsed,
		).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg string) (*accesskeydomain.AccessKey, error) {
	var key accesskeydomain.AccessKey
	err := db.WithContext(ctx).Where(query, arg).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, token string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_keys
		 SET status = ?, used_at = ?, updated_at = ?
		 WHERE token = ? AND status = ? AND expires_at > ?`,
		accesskeydomain.KeyStatusUsed,
		at,
		at,
		token,
		accesskeydomain.KeyStatusActive,
		at,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, token string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_keys
		 SET status = ?, updated_at = ?
		 WHERE token = ? AND status = ? AND expires_at <= ?`,
		accesskeydomain.KeyStatusExpired,
		at,
		token,
		accesskeydomain.KeyStatusActive,
		at,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) MarkRevoked(ctx context.Context, db *gorm.DB, token string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_keys
		 SET status = ?, updated_at = ?
		 WHERE token = ? AND status = ?`,
		accesskeydomain.KeyStatusRevoked,
		at,
		token,
		accesskeydomain.KeyStatusActive,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) RevokeByPaymentID(ctx context.Context, db *gorm.DB, paymentID string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_keys
		 SET status = ?, updated_at = ?
		 WHERE payment_id = ? AND status IN (?, ?)`,
		accesskeydomain.KeyStatusRevoked,
		at,
		paymentID,
		accesskeydomain.KeyStatusActive,
		accesskeydomain.KeyStatusExpired,
	)
	return result.RowsAffected == 1, result.Error
}

func (r *repo) Renew(ctx context.Context, db *gorm.DB, subscriptionID string, expiresAt, at time.Time) (bool, error) {
	// Only the newest key is the subscription's current credential;
	// resurrecting terminal predecessors would mint extra live keys.
	// The derived table keeps the self-referencing subquery legal on
	// MySQL.
	result := db.WithContext(ctx).Exec(
		`UPDATE access_keys
		 SET status = ?, expires_at = ?, used_at = NULL, updated_at = ?
		 WHERE id = (
		 	SELECT id FROM (
		 		SELECT id FROM access_keys WHERE subscription_id = ? ORDER BY id DESC LIMIT 1
		 	) latest
		 )`,
		accesskeydomain.KeyStatusActive,
		expiresAt,
		at,
		subscriptionID,
	)
	return result.RowsAffected == 1, result.Error
}
