// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Turn model:
// immutable inserts, word-budget history reads, and oldest-first trimming.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orionagi/go-ai-gateway/internal/domain"
)

// WordCount returns the number of whitespace-separated words in s.
// Stored per turn at insert time so budget queries stay a single SUM.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// CreateTurn inserts a new immutable turn row.
func CreateTurn(ctx context.Context, db *gorm.DB, chatID int64, role, content string) (*domain.Turn, error) {
	t := &domain.Turn{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		WordCount: WordCount(content),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// visibleTurns scopes a query to the turns of chatID that are newer than the
// history-clear watermark (when one is set).
func visibleTurns(db *gorm.DB, chatID int64, clearedAt *time.Time) *gorm.DB {
	q := db.Model(&domain.Turn{}).Where("chat_id = ?", chatID)
	if clearedAt != nil {
		q = q.Where("created_at > ?", *clearedAt)
	}
	return q
}

// TotalWords sums the stored word counts of all visible turns in chatID.
func TotalWords(ctx context.Context, db *gorm.DB, chatID int64, clearedAt *time.Time) (int, error) {
	var total *int
	err := visibleTurns(db.WithContext(ctx), chatID, clearedAt).
		Select("SUM(word_count)").
		Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}

// TrimHistory deletes the oldest visible turns of chatID one at a time until
// the total stored word count drops to maxWords or below.
func TrimHistory(ctx context.Context, db *gorm.DB, chatID int64, clearedAt *time.Time, maxWords int) error {
	total, err := TotalWords(ctx, db, chatID, clearedAt)
	if err != nil {
		return err
	}
	for total > maxWords {
		var oldest domain.Turn
		err := visibleTurns(db.WithContext(ctx), chatID, clearedAt).
			Order("created_at ASC, id ASC").
			First(&oldest).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := db.WithContext(ctx).Delete(&domain.Turn{}, "id = ?", oldest.ID).Error; err != nil {
			return err
		}
		total -= oldest.WordCount
	}
	return nil
}

// ListHistory returns visible turns of chatID ordered oldest-first, stopping
// before the turn that would push the accumulated word count past maxWords.
func ListHistory(ctx context.Context, db *gorm.DB, chatID int64, clearedAt *time.Time, maxWords int) ([]domain.Turn, error) {
	var all []domain.Turn
	err := visibleTurns(db.WithContext(ctx), chatID, clearedAt).
		Order("created_at ASC, id ASC").
		Find(&all).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Turn, 0, len(all))
	words := 0
	for _, t := range all {
		if words+t.WordCount > maxWords {
			break
		}
		out = append(out, t)
		words += t.WordCount
	}
	return out, nil
}
