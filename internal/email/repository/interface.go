package repository

import "mailsync-backend/internal/email/domain"

// EmailRepository is the local mirror of remote messages.
type EmailRepository interface {
	// FindExistingIDs reports which of messageIDs are already stored for
	// the user.
	FindExistingIDs(userID string, messageIDs []string) (map[string]bool, error)
	// SaveBatch persists records in a single write. Records whose
	// (user, message) pair already exists are left untouched.
	SaveBatch(emails []*domain.Email) error
	DeleteByMessageIDs(userID string, messageIDs []string) error
	// ListMessageIDs returns every stored remote message id for the user.
	ListMessageIDs(userID string) ([]string, error)
	GetByMessageID(userID, messageID string) (*domain.Email, error)
	ListByUser(userID string, limit, offset int) ([]*domain.Email, int64, error)
	// MarkEmbedded stamps records whose embeddings have been indexed.
	MarkEmbedded(userID string, messageIDs []string) error
}

// SyncCursorRepository persists each user's incremental sync checkpoint.
type SyncCursorRepository interface {
	// GetCursor returns the stored history id and whether one exists.
	GetCursor(userID string) (uint64, bool, error)
	SetCursor(userID string, historyID uint64) error
	ClearCursor(userID string) error
}
