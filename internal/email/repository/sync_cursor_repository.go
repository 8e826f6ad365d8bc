package repository

import (
	"errors"

	"mailsync-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type syncCursorRepository struct {
	db *gorm.DB
}

func NewSyncCursorRepository(db *gorm.DB) SyncCursorRepository {
	return &syncCursorRepository{db: db}
}

func (r *syncCursorRepository) GetCursor(userID string) (uint64, bool, error) {
	var cursor domain.SyncCursor
	err := r.db.Where("user_id = ?", userID).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return cursor.LastHistoryID, true, nil
}

func (r *syncCursorRepository) SetCursor(userID string, historyID uint64) error {
	var cursor domain.SyncCursor
	err := r.db.Where("user_id = ?", userID).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = domain.SyncCursor{
				ID:            uuid.New().String(),
				UserID:        userID,
				LastHistoryID: historyID,
			}
			return r.db.Create(&cursor).Error
		}
		return err
	}

	cursor.LastHistoryID = historyID
	return r.db.Save(&cursor).Error
}

func (r *syncCursorRepository) ClearCursor(userID string) error {
	return r.db.Where("user_id = ?", userID).Delete(&domain.SyncCursor{}).Error
}
