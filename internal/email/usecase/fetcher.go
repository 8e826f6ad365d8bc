package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/gmail"
)

const defaultFetchConcurrency = 10

// BatchDetailFetcher turns candidate message ids into stored records.
// It never re-fetches an id already stored for the user, tolerates
// per-message failure, and writes survivors as one batch.
type BatchDetailFetcher struct {
	emailRepo   repository.EmailRepository
	concurrency int
}

func NewBatchDetailFetcher(emailRepo repository.EmailRepository, concurrency int) *BatchDetailFetcher {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &BatchDetailFetcher{
		emailRepo:   emailRepo,
		concurrency: concurrency,
	}
}

// FetchAndStore returns the remote message ids that were newly persisted.
func (f *BatchDetailFetcher) FetchAndStore(ctx context.Context, mailbox gmail.Mailbox, userID string, candidateIDs []string) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(candidateIDs))
	unique := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	existing, err := f.emailRepo.FindExistingIDs(userID, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing emails: %w", err)
	}

	missing := make([]string, 0, len(unique))
	for _, id := range unique {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	// Bounded fan-out: at most `concurrency` metadata fetches in flight
	// so one large page cannot exhaust the shared API quota.
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	records := make([]*domain.Email, 0, len(missing))

	for _, id := range missing {
		wg.Add(1)
		go func(messageID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			meta, err := mailbox.GetMessageMetadata(ctx, messageID)
			if err != nil {
				if errors.Is(err, gmail.ErrNotFound) {
					// Deleted remotely between listing and fetch.
					log.Printf("[SyncEngine] message %s vanished remotely, skipping", messageID)
				} else {
					log.Printf("[SyncEngine] failed to fetch message %s: %v", messageID, err)
				}
				return
			}

			mu.Lock()
			records = append(records, &domain.Email{
				UserID:       userID,
				MessageID:    meta.MessageID,
				ThreadID:     meta.ThreadID,
				Subject:      meta.Subject,
				Sender:       meta.Sender,
				Snippet:      meta.Snippet,
				InternalDate: meta.InternalDate,
			})
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if len(records) == 0 {
		return nil, nil
	}
	if err := f.emailRepo.SaveBatch(records); err != nil {
		return nil, fmt.Errorf("failed to store email batch: %w", err)
	}

	newIDs := make([]string, 0, len(records))
	for _, rec := range records {
		newIDs = append(newIDs, rec.MessageID)
	}
	return newIDs, nil
}
