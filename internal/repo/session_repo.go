// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatSession
// model: display-metadata upserts and the history-clear watermark.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orionagi/go-ai-gateway/internal/domain"
)

// UpsertSession creates the session row for chatID if it does not exist and
// refreshes the display metadata (first name, username) otherwise. The title
// and watermark of an existing row are left untouched.
func UpsertSession(ctx context.Context, db *gorm.DB, chatID int64, firstName, username string) error {
	s := &domain.ChatSession{
		ChatID:    chatID,
		FirstName: firstName,
		Username:  username,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_name", "username", "updated_at"}),
		}).
		Create(s).Error
}

// GetSession fetches a session by chat ID, or ErrNotFound if missing.
func GetSession(ctx context.Context, db *gorm.DB, chatID int64) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := db.WithContext(ctx).Where("chat_id = ?", chatID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// HistoryClearedAt returns the session's clear watermark, or nil when the
// session does not exist or history was never cleared.
func HistoryClearedAt(ctx context.Context, db *gorm.DB, chatID int64) (*time.Time, error) {
	s, err := GetSession(ctx, db, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.HistoryClearedAt, nil
}

// SetHistoryClearedAt moves the session's clear watermark to at. Turn rows
// are never deleted by a clear; reads simply skip everything at or before
// the watermark. The session row is created when it does not exist yet.
func SetHistoryClearedAt(ctx context.Context, db *gorm.DB, chatID int64, at time.Time) error {
	s := &domain.ChatSession{ChatID: chatID, HistoryClearedAt: &at}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"history_cleared_at", "updated_at"}),
		}).
		Create(s).Error
}

// UpdateSessionTitle sets the session title. It returns ErrNotFound when the
// session row does not exist.
func UpdateSessionTitle(ctx context.Context, db *gorm.DB, chatID int64, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("chat_id = ?", chatID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
