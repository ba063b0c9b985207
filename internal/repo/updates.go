// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides helpers for the ProcessedUpdate model
// used to answer each transport update at most once.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-assistant-bot/internal/domain"
)

// ErrDuplicate indicates that an unexpired record already exists for the
// given update id.
var ErrDuplicate = errors.New("duplicate")

// MarkUpdateProcessed records updateID as handled for ttl. It returns
// ErrDuplicate when the update was already recorded and has not expired.
// An expired record for the same update is replaced.
func MarkUpdateProcessed(ctx context.Context, db *gorm.DB, updateID int64, userID string, ttl time.Duration) (*domain.ProcessedUpdate, error) {
	now := time.Now().UTC()
	rec := &domain.ProcessedUpdate{
		ID:        uuid.NewString(),
		UpdateID:  updateID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("update_id = ? AND expires_at <= ?", updateID, now).
			Delete(&domain.ProcessedUpdate{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredUpdates deletes records that expired at or before now and
// returns how many were removed.
func PurgeExpiredUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedUpdate{})
	return res.RowsAffected, res.Error
}

// UpdateLog binds the processed-update helpers to a database and TTL.
type UpdateLog struct {
	DB  *gorm.DB
	TTL time.Duration
}

// MarkProcessed records updateID; see MarkUpdateProcessed.
func (l *UpdateLog) MarkProcessed(ctx context.Context, updateID int64, userID string) error {
	_, err := MarkUpdateProcessed(ctx, l.DB, updateID, userID, l.TTL)
	return err
}

// Purge removes expired records; see PurgeExpiredUpdates.
func (l *UpdateLog) Purge(ctx context.Context) (int64, error) {
	return PurgeExpiredUpdates(ctx, l.DB, time.Now().UTC())
}
