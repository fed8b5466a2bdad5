// Package domain defines the persistence models for chat sessions,
// conversation turns, stored prompts, and per-user rate records. These types
// are mapped with GORM and form the core data layer of the gateway.
package domain

import "time"

// Conversation roles. Turns are only ever authored by one of these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession represents one chat the bot participates in. It carries display
// metadata and the history-clear watermark; clearing history never deletes
// turn rows, it only moves the watermark forward.
//
// Fields:
//   - ChatID: the transport's chat identifier, primary key.
//   - FirstName / Username: display metadata refreshed on every inbound turn.
//   - Title: human-readable session title, auto-generated from the first prompt.
//   - HistoryClearedAt: visibility watermark; turns at or before it are
//     invisible to history reads.
type ChatSession struct {
	ChatID           int64      `json:"chat_id"    gorm:"primaryKey;autoIncrement:false"`
	FirstName        string     `json:"first_name" gorm:"type:varchar(128)"`
	Username         string     `json:"username"   gorm:"type:varchar(128);index"`
	Title            string     `json:"title"      gorm:"type:varchar(255);not null;default:'New chat'"`
	HistoryClearedAt *time.Time `json:"history_cleared_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// Turn is a single utterance within a chat session. Turns are immutable once
// persisted; they are removed only by the word-budget trim or never at all
// (an explicit clear only moves the session watermark).
type Turn struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    int64     `json:"chat_id"    gorm:"not null;index:idx_chat_turns,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	WordCount int       `json:"word_count" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_chat_turns,priority:2"`
}

// TableName returns the database table name for Turn.
func (Turn) TableName() string { return "turns" }

// PromptEntry is one slot of the bounded per-user prompt ring. Inserting a
// new entry deletes older excess entries in the same transaction so that only
// the most recent K survive.
type PromptEntry struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID    int64     `json:"user_id" gorm:"not null;index:idx_user_prompts,priority:1"`
	Prompt    string    `json:"prompt"  gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_prompts,priority:2"`
}

// TableName returns the database table name for PromptEntry.
func (PromptEntry) TableName() string { return "prompt_entries" }

// RateRecord tracks one user's consumption of one quota kind inside the
// current fixed window. Exactly one row exists per (user, kind); the row is
// mutated atomically on every permission check and reset in place when the
// window expires.
type RateRecord struct {
	UserID    int64     `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	Kind      string    `json:"kind"    gorm:"type:varchar(32);primaryKey"`
	Count     int       `json:"count"   gorm:"not null"`
	ResetAt   time.Time `json:"reset_at" gorm:"not null;index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for RateRecord.
func (RateRecord) TableName() string { return "rate_records" }
