// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the bounded per-user prompt ring:
// inserting a prompt evicts older excess entries in the same transaction.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orionagi/go-ai-gateway/internal/domain"
)

// AddPrompt stores a prompt for userID and prunes the ring down to the most
// recent maxPrompts entries. Insert and prune run in one transaction so a
// reader never observes more than maxPrompts rows.
func AddPrompt(ctx context.Context, db *gorm.DB, userID int64, prompt string, maxPrompts int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e := &domain.PromptEntry{
			ID:        uuid.NewString(),
			UserID:    userID,
			Prompt:    prompt,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		return tx.Exec(`
			DELETE FROM prompt_entries
			WHERE user_id = ? AND id NOT IN (
				SELECT id FROM prompt_entries
				WHERE user_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)`, userID, userID, maxPrompts).Error
	})
}

// LastPrompts returns up to maxPrompts stored prompts for userID, ordered
// most-recent-first.
func LastPrompts(ctx context.Context, db *gorm.DB, userID int64, maxPrompts int) ([]string, error) {
	var entries []domain.PromptEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(maxPrompts).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Prompt
	}
	return out, nil
}

// ClearPrompts removes every stored prompt for userID.
func ClearPrompts(ctx context.Context, db *gorm.DB, userID int64) error {
	return db.WithContext(ctx).Delete(&domain.PromptEntry{}, "user_id = ?", userID).Error
}
