package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	authrepo "mailsync-backend/internal/auth/repository"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/internal/event"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/gmail"

	"github.com/google/uuid"
)

const legacyPageSize = 50

// SyncEngine drives incremental mailbox synchronization. One instance
// serves all users; per-user runs are serialized through a single-slot
// in-flight lock so overlapping requests can never race on the cursor.
type SyncEngine struct {
	userRepo   authrepo.UserRepository
	emailRepo  repository.EmailRepository
	cursorRepo repository.SyncCursorRepository
	provider   MailboxProvider
	bus        EventBus
	fetcher    *BatchDetailFetcher
	reconciler *DeletionReconciler

	queryFilter    string
	legacyMaxPages int
	pageDelay      time.Duration
	retryBase      time.Duration
	maxPageRetries int

	mu       sync.Mutex
	inflight map[string]bool
	pending  map[string]*event.SyncRequested
}

func NewSyncEngine(
	userRepo authrepo.UserRepository,
	emailRepo repository.EmailRepository,
	cursorRepo repository.SyncCursorRepository,
	provider MailboxProvider,
	bus EventBus,
	cfg *config.Config,
) *SyncEngine {
	return &SyncEngine{
		userRepo:       userRepo,
		emailRepo:      emailRepo,
		cursorRepo:     cursorRepo,
		provider:       provider,
		bus:            bus,
		fetcher:        NewBatchDetailFetcher(emailRepo, cfg.SyncFetchConcurrency),
		reconciler:     NewDeletionReconciler(emailRepo),
		queryFilter:    cfg.SyncQueryFilter,
		legacyMaxPages: cfg.SyncLegacyMaxPages,
		pageDelay:      cfg.SyncPageDelay,
		retryBase:      time.Second,
		maxPageRetries: 3,
		inflight:       make(map[string]bool),
		pending:        make(map[string]*event.SyncRequested),
	}
}

// HandleSyncRequested is the bus entry point. A request for a user with
// a run already in flight is parked in that user's single pending slot
// and replayed when the current run finishes; it is never interleaved.
func (e *SyncEngine) HandleSyncRequested(req event.SyncRequested) {
	if !e.tryAcquire(req) {
		log.Printf("[SyncEngine] sync already running for user %s, deferring request", req.UserID)
		return
	}

	for {
		if err := e.runSync(context.Background(), req); err != nil {
			// Abandons this page's continuation chain; other users are
			// unaffected and the next poll starts over from the cursor.
			log.Printf("[SyncEngine] sync failed for user %s: %v", req.UserID, err)
		}

		next, ok := e.releaseOrNext(req.UserID)
		if !ok {
			return
		}
		req = *next
	}
}

func (e *SyncEngine) tryAcquire(req event.SyncRequested) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[req.UserID] {
		e.pending[req.UserID] = &req
		return false
	}
	e.inflight[req.UserID] = true
	return true
}

// releaseOrNext hands back the pending request if one was parked while
// this run executed, keeping the in-flight slot; otherwise it frees it.
func (e *SyncEngine) releaseOrNext(userID string) (*event.SyncRequested, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if next, ok := e.pending[userID]; ok {
		delete(e.pending, userID)
		return next, true
	}
	delete(e.inflight, userID)
	return nil, false
}

func (e *SyncEngine) runSync(ctx context.Context, req event.SyncRequested) error {
	user, err := e.userRepo.FindByID(req.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %s not found", req.UserID)
	}
	if user.AccessToken == "" && user.RefreshToken == "" {
		return fmt.Errorf("user %s has no mailbox credential", req.UserID)
	}

	mailbox, err := e.provider.MailboxFor(ctx, user.AccessToken, user.RefreshToken, tokenUpdateCallback(e.userRepo, user))
	if err != nil {
		return fmt.Errorf("failed to build mailbox client: %w", err)
	}

	if req.Mode == event.SyncModeLegacyList {
		return e.runLegacyListPage(ctx, mailbox, req)
	}

	cursor, hasCursor, err := e.cursorRepo.GetCursor(req.UserID)
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}
	if !hasCursor {
		return e.seedCursor(ctx, mailbox, req.UserID)
	}
	return e.runHistoryPage(ctx, mailbox, req, cursor)
}

// seedCursor is the cold-start path: without a baseline, a history diff
// would report the whole mailbox as newly added, so the cursor is
// seeded from the profile and no changes are reported.
func (e *SyncEngine) seedCursor(ctx context.Context, mailbox gmail.Mailbox, userID string) error {
	profile, err := mailbox.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("cold-start profile fetch failed: %w", err)
	}
	if err := e.cursorRepo.SetCursor(userID, profile.HistoryID); err != nil {
		return fmt.Errorf("failed to seed cursor: %w", err)
	}
	log.Printf("[SyncEngine] seeded cursor for user %s at history id %d", userID, profile.HistoryID)
	return nil
}

func (e *SyncEngine) runHistoryPage(ctx context.Context, mailbox gmail.Mailbox, req event.SyncRequested, cursor uint64) error {
	page, err := e.listHistoryWithRetry(ctx, mailbox, cursor, req.ContinuationToken)
	if errors.Is(err, gmail.ErrHistoryExpired) {
		// Resuming from a stale cursor risks silently missing
		// deletions; start over from a fresh baseline.
		log.Printf("[SyncEngine] history id %d expired for user %s, reseeding cursor", cursor, req.UserID)
		if clearErr := e.cursorRepo.ClearCursor(req.UserID); clearErr != nil {
			return fmt.Errorf("failed to clear expired cursor: %w", clearErr)
		}
		return e.seedCursor(ctx, mailbox, req.UserID)
	}
	if err != nil {
		return fmt.Errorf("history page fetch failed: %w", err)
	}

	newIDs, err := e.fetcher.FetchAndStore(ctx, mailbox, req.UserID, page.AddedIDs)
	if err != nil {
		return err
	}
	removed, err := e.reconciler.ReconcileExplicit(req.UserID, page.DeletedIDs)
	if err != nil {
		return err
	}

	if len(newIDs) > 0 {
		e.bus.PublishEmbeddingRequested(event.EmbeddingRequested{
			UserID:      req.UserID,
			EmailIDs:    newIDs,
			BatchMarker: uuid.New().String(),
		})
	}

	carried := make([]string, 0, len(req.CarriedDeletedIDs)+len(page.DeletedIDs))
	carried = append(carried, req.CarriedDeletedIDs...)
	carried = append(carried, page.DeletedIDs...)

	if page.NextPageToken != "" {
		// Not terminal: clients learn about this page's additions now,
		// deletion fan-out waits for the terminal page. The cursor does
		// not move until the whole run has been applied.
		if len(newIDs) > 0 {
			e.bus.PublishMailboxChanged(event.MailboxChanged{
				UserID:          req.UserID,
				ChangedEmailIDs: newIDs,
			})
		}
		e.emitContinuation(event.SyncRequested{
			UserID:            req.UserID,
			Mode:              event.SyncModeHistory,
			ContinuationToken: page.NextPageToken,
			PageCounter:       req.PageCounter + 1,
			CarriedDeletedIDs: carried,
		})
		return nil
	}

	// Terminal page: only now does the cursor advance.
	if page.NewHistoryID != 0 {
		if err := e.cursorRepo.SetCursor(req.UserID, page.NewHistoryID); err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
	}

	changed := make([]string, 0, len(newIDs)+len(carried))
	changed = append(changed, newIDs...)
	changed = append(changed, carried...)
	if len(changed) > 0 {
		e.bus.PublishMailboxChanged(event.MailboxChanged{
			UserID:          req.UserID,
			ChangedEmailIDs: changed,
		})
	}

	log.Printf("[SyncEngine] history sync complete for user %s: %d added, %d deleted this page", req.UserID, len(newIDs), len(removed))
	return nil
}

// runLegacyListPage walks the full message listing instead of the
// history feed. A single page is not authoritative for the mailbox, so
// no deletions are computed here; the history path owns deletions.
func (e *SyncEngine) runLegacyListPage(ctx context.Context, mailbox gmail.Mailbox, req event.SyncRequested) error {
	counter := req.PageCounter
	if counter <= 0 {
		counter = 1
	}
	if counter > e.legacyMaxPages {
		log.Printf("[SyncEngine] legacy sync for user %s reached the %d-page bound, stopping", req.UserID, e.legacyMaxPages)
		return nil
	}

	list, err := e.listMessagesWithRetry(ctx, mailbox, req.ContinuationToken)
	if err != nil {
		return fmt.Errorf("legacy listing fetch failed: %w", err)
	}

	newIDs, err := e.fetcher.FetchAndStore(ctx, mailbox, req.UserID, list.IDs)
	if err != nil {
		return err
	}

	if len(newIDs) > 0 {
		e.bus.PublishEmbeddingRequested(event.EmbeddingRequested{
			UserID:      req.UserID,
			EmailIDs:    newIDs,
			BatchMarker: uuid.New().String(),
		})
		e.bus.PublishMailboxChanged(event.MailboxChanged{
			UserID:          req.UserID,
			ChangedEmailIDs: newIDs,
		})
	}

	if list.NextPageToken != "" {
		e.emitContinuation(event.SyncRequested{
			UserID:            req.UserID,
			Mode:              event.SyncModeLegacyList,
			ContinuationToken: list.NextPageToken,
			PageCounter:       counter + 1,
		})
	}
	return nil
}

// ReconcileMailbox walks the complete remote listing and removes local
// records absent from it. Unlike the legacy sync path this sees the
// whole mailbox, which is the precondition for diff-mode reconciliation.
func (e *SyncEngine) ReconcileMailbox(ctx context.Context, userID string) ([]string, error) {
	user, err := e.userRepo.FindByID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}

	mailbox, err := e.provider.MailboxFor(ctx, user.AccessToken, user.RefreshToken, tokenUpdateCallback(e.userRepo, user))
	if err != nil {
		return nil, fmt.Errorf("failed to build mailbox client: %w", err)
	}

	var remoteIDs []string
	pageToken := ""
	for {
		list, err := e.listMessagesWithRetry(ctx, mailbox, pageToken)
		if err != nil {
			// An incomplete remote set must never be diffed.
			return nil, fmt.Errorf("full listing aborted: %w", err)
		}
		remoteIDs = append(remoteIDs, list.IDs...)
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
		if e.pageDelay > 0 {
			time.Sleep(e.pageDelay)
		}
	}

	removed, err := e.reconciler.ReconcileDiff(userID, remoteIDs)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		e.bus.PublishMailboxChanged(event.MailboxChanged{
			UserID:          userID,
			ChangedEmailIDs: removed,
		})
	}
	log.Printf("[SyncEngine] full reconcile for user %s removed %d stale records", userID, len(removed))
	return removed, nil
}

// WatchMailbox registers the remote push channel so mailbox changes
// arrive as Pub/Sub notifications instead of waiting for the poller.
func (e *SyncEngine) WatchMailbox(ctx context.Context, userID, topicName string) error {
	user, err := e.userRepo.FindByID(userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %s not found", userID)
	}

	mailbox, err := e.provider.MailboxFor(ctx, user.AccessToken, user.RefreshToken, tokenUpdateCallback(e.userRepo, user))
	if err != nil {
		return fmt.Errorf("failed to build mailbox client: %w", err)
	}
	if err := mailbox.Watch(ctx, topicName); err != nil {
		return fmt.Errorf("failed to register watch: %w", err)
	}
	log.Printf("[SyncEngine] registered mailbox watch for user %s on topic %s", userID, topicName)
	return nil
}

func (e *SyncEngine) listHistoryWithRetry(ctx context.Context, mailbox gmail.Mailbox, startHistoryID uint64, pageToken string) (*gmail.HistoryPage, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxPageRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.retryBase << (attempt - 1))
		}
		page, err := mailbox.ListHistory(ctx, startHistoryID, pageToken)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !gmail.IsTransient(err) {
			return nil, err
		}
		log.Printf("[SyncEngine] transient history fetch failure (attempt %d/%d): %v", attempt+1, e.maxPageRetries, err)
	}
	return nil, lastErr
}

func (e *SyncEngine) listMessagesWithRetry(ctx context.Context, mailbox gmail.Mailbox, pageToken string) (*gmail.MessageList, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxPageRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.retryBase << (attempt - 1))
		}
		list, err := mailbox.ListMessages(ctx, pageToken, legacyPageSize, e.queryFilter)
		if err == nil {
			return list, nil
		}
		lastErr = err
		if !gmail.IsTransient(err) {
			return nil, err
		}
		log.Printf("[SyncEngine] transient listing fetch failure (attempt %d/%d): %v", attempt+1, e.maxPageRetries, err)
	}
	return nil, lastErr
}

// emitContinuation publishes the next page's request after a short
// delay so consecutive pages do not hammer the remote rate limit.
func (e *SyncEngine) emitContinuation(next event.SyncRequested) {
	if e.pageDelay <= 0 {
		e.bus.PublishSyncRequested(next)
		return
	}
	time.AfterFunc(e.pageDelay, func() {
		e.bus.PublishSyncRequested(next)
	})
}
