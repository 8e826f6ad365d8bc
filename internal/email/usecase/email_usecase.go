package usecase

import (
	"context"
	"fmt"
	"strings"

	"mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
)

// SemanticSearcher finds the user's email ids closest to a free-text query.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, userID, query string, limit int) ([]string, []float64, error)
}

// EmailUsecase serves the mirrored mailbox to API clients. Reads never
// touch the remote service; the sync engine keeps the mirror current.
type EmailUsecase interface {
	ListEmails(userID string, limit, offset int) ([]*domain.Email, int64, error)
	GetEmail(userID, messageID string) (*domain.Email, error)
	SearchEmails(ctx context.Context, userID, query string, limit int) ([]*domain.Email, error)
}

type emailUsecase struct {
	emailRepo repository.EmailRepository
	searcher  SemanticSearcher
}

func NewEmailUsecase(emailRepo repository.EmailRepository, searcher SemanticSearcher) EmailUsecase {
	return &emailUsecase{
		emailRepo: emailRepo,
		searcher:  searcher,
	}
}

func (u *emailUsecase) ListEmails(userID string, limit, offset int) ([]*domain.Email, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return u.emailRepo.ListByUser(userID, limit, offset)
}

func (u *emailUsecase) GetEmail(userID, messageID string) (*domain.Email, error) {
	return u.emailRepo.GetByMessageID(userID, messageID)
}

func (u *emailUsecase) SearchEmails(ctx context.Context, userID, query string, limit int) ([]*domain.Email, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.Email{}, nil
	}
	if u.searcher == nil {
		return nil, fmt.Errorf("semantic search not available")
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	ids, _, err := u.searcher.SemanticSearch(ctx, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	emails := make([]*domain.Email, 0, len(ids))
	for _, id := range ids {
		email, err := u.emailRepo.GetByMessageID(userID, id)
		if err != nil || email == nil {
			// Index entries can outlive their records briefly.
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}
