package domain

import "time"

// Email is one remote message mirrored locally. Presence means the
// message was observed via an initial listing or a history "added"
// entry and has not since been seen as deleted remotely.
type Email struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"userId" gorm:"uniqueIndex:idx_user_message;not null"`
	MessageID    string    `json:"messageId" gorm:"uniqueIndex:idx_user_message;not null"`
	ThreadID     string    `json:"threadId"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	Snippet      string    `json:"snippet" gorm:"type:text"`
	InternalDate time.Time `json:"internalDate" gorm:"index"`
	// Set once the embedding worker has indexed this message. The
	// vector itself lives in the vector store, keyed by MessageID.
	EmbeddedAt *time.Time `json:"embeddedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// SyncCursor is a user's incremental sync checkpoint. Absent until the
// first cold-start seed; advanced only after a history page has been
// fully applied, never speculatively.
type SyncCursor struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	UserID        string    `json:"userId" gorm:"uniqueIndex;not null"`
	LastHistoryID uint64    `json:"lastHistoryId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
