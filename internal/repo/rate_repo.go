// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the atomic check-and-consume primitive
// for per-user rate records.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/orionagi/go-ai-gateway/internal/domain"
)

// CheckAndConsume applies the fixed-window quota rule for (userID, kind)
// atomically and reports whether the action is allowed:
//
//   - no record: create {count: 1, reset: now+window}, allow;
//   - now past the reset time: reset {count: 1, reset: now+window}, allow
//     (a fresh request after expiry always succeeds, even if the previous
//     window was never exhausted);
//   - inside the window: increment and allow iff count < limit, otherwise
//     deny and leave the record unchanged.
//
// Every call may mutate persisted state; callers must not assume idempotence
// on retry.
func CheckAndConsume(ctx context.Context, db *gorm.DB, userID int64, kind string, now time.Time, limit int, window time.Duration) (bool, error) {
	allowed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.RateRecord
		err := tx.Where("user_id = ? AND kind = ?", userID, kind).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = domain.RateRecord{
				UserID:  userID,
				Kind:    kind,
				Count:   1,
				ResetAt: now.Add(window),
			}
			allowed = true
			return tx.Create(&rec).Error
		case err != nil:
			return err
		}

		if now.After(rec.ResetAt) {
			allowed = true
			return tx.Model(&rec).Updates(map[string]any{
				"count":    1,
				"reset_at": now.Add(window),
			}).Error
		}
		if rec.Count < limit {
			allowed = true
			return tx.Model(&rec).Update("count", rec.Count+1).Error
		}
		allowed = false
		return nil
	})
	return allowed, err
}

// GetRateRecord returns the current record for (userID, kind), or ErrNotFound.
func GetRateRecord(ctx context.Context, db *gorm.DB, userID int64, kind string) (*domain.RateRecord, error) {
	var rec domain.RateRecord
	if err := db.WithContext(ctx).Where("user_id = ? AND kind = ?", userID, kind).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
