package ratelimit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/orionagi/go-ai-gateway/internal/repo"
)

// GormStore keeps window records in the main relational database, one row
// per (key, kind). It backs the text-message quota and serves as the
// fallback store for the image quota when redis is not configured.
type GormStore struct {
	db   *gorm.DB
	kind string
}

// NewGormStore builds a GormStore for one quota kind.
func NewGormStore(db *gorm.DB, kind string) *GormStore {
	return &GormStore{db: db, kind: kind}
}

// CheckAndConsume implements Store via the repo's transactional primitive.
func (s *GormStore) CheckAndConsume(ctx context.Context, key int64, now time.Time, limit int, window time.Duration) (bool, error) {
	return repo.CheckAndConsume(ctx, s.db, key, s.kind, now, limit, window)
}

// Peek implements Store.
func (s *GormStore) Peek(ctx context.Context, key int64) (Window, bool, error) {
	rec, err := repo.GetRateRecord(ctx, s.db, key, s.kind)
	if errors.Is(err, repo.ErrNotFound) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, err
	}
	return Window{Count: rec.Count, ResetAt: rec.ResetAt}, true, nil
}
