package repository

import (
	"errors"
	"time"

	"mailsync-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) FindExistingIDs(userID string, messageIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(messageIDs) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.Model(&domain.Email{}).
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Pluck("message_id", &found).Error
	if err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *emailRepository) SaveBatch(emails []*domain.Email) error {
	if len(emails) == 0 {
		return nil
	}

	for _, email := range emails {
		if email.ID == "" {
			email.ID = uuid.New().String()
		}
	}

	// A concurrent writer may have stored the same (user, message) pair
	// between the dedup check and this write; skip rather than fail.
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(&emails).Error
}

func (r *emailRepository) DeleteByMessageIDs(userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return r.db.
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Delete(&domain.Email{}).Error
}

func (r *emailRepository) ListMessageIDs(userID string) ([]string, error) {
	var ids []string
	err := r.db.Model(&domain.Email{}).
		Where("user_id = ?", userID).
		Pluck("message_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *emailRepository) GetByMessageID(userID, messageID string) (*domain.Email, error) {
	var email domain.Email
	err := r.db.Where("user_id = ? AND message_id = ?", userID, messageID).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) ListByUser(userID string, limit, offset int) ([]*domain.Email, int64, error) {
	var total int64
	err := r.db.Model(&domain.Email{}).Where("user_id = ?", userID).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var emails []*domain.Email
	err = r.db.Where("user_id = ?", userID).
		Order("internal_date DESC").
		Limit(limit).
		Offset(offset).
		Find(&emails).Error
	if err != nil {
		return nil, 0, err
	}
	return emails, total, nil
}

func (r *emailRepository) MarkEmbedded(userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return r.db.Model(&domain.Email{}).
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Update("embedded_at", time.Now()).Error
}
