package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	"mailsync-backend/internal/event"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/gmail"
)

const testUserID = "user-1"

func testConfig() *config.Config {
	return &config.Config{
		SyncLegacyMaxPages:   10,
		SyncFetchConcurrency: 4,
		SyncPageDelay:        0,
	}
}

func newTestEngine(emailRepo *memEmailRepo, cursorRepo *memCursorRepo, mailbox gmail.Mailbox, bus *recordingBus) (*SyncEngine, *memUserRepo) {
	userRepo := &memUserRepo{}
	userRepo.Create(&authdomain.User{
		ID:           testUserID,
		Email:        "someone@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
	})
	engine := NewSyncEngine(userRepo, emailRepo, cursorRepo, &fakeProvider{mailbox: mailbox}, bus, testConfig())
	engine.retryBase = 0
	return engine, userRepo
}

func metaFor(id string) *gmail.MessageMetadata {
	return &gmail.MessageMetadata{
		MessageID:    id,
		ThreadID:     "thread-" + id,
		Subject:      "subject " + id,
		Sender:       "sender@example.com",
		Snippet:      "snippet " + id,
		InternalDate: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestColdStartSeedsCursorWithoutChanges(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		profileFunc: func() (*gmail.Profile, error) {
			return &gmail.Profile{EmailAddress: "someone@example.com", HistoryID: 500}, nil
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1})

	cursor, ok := cursorRepo.get(testUserID)
	if !ok || cursor != 500 {
		t.Errorf("cursor = %d (set=%v), want 500", cursor, ok)
	}
	if n := emailRepo.count(testUserID); n != 0 {
		t.Errorf("cold start stored %d emails, want 0", n)
	}
	syncs, embeds, changes := bus.snapshot()
	if len(syncs) != 0 || len(embeds) != 0 || len(changes) != 0 {
		t.Errorf("cold start emitted events: %d sync, %d embed, %d changed; want none", len(syncs), len(embeds), len(changes))
	}
}

func TestNewMailTerminalPage(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	cursorRepo.SetCursor(testUserID, 100)
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		historyFunc: func(start uint64, pageToken string) (*gmail.HistoryPage, error) {
			if start != 100 {
				t.Errorf("history listed from %d, want cursor 100", start)
			}
			return &gmail.HistoryPage{
				AddedIDs:     []string{"m1", "m2"},
				NewHistoryID: 120,
			}, nil
		},
		getFunc: func(id string) (*gmail.MessageMetadata, error) { return metaFor(id), nil },
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1})

	if !emailRepo.has(testUserID, "m1") || !emailRepo.has(testUserID, "m2") {
		t.Fatal("expected m1 and m2 to be stored")
	}
	stored, _ := emailRepo.GetByMessageID(testUserID, "m1")
	if stored.Subject != "subject m1" || stored.Sender != "sender@example.com" {
		t.Errorf("stored record has subject %q, sender %q", stored.Subject, stored.Sender)
	}
	if stored.InternalDate.IsZero() {
		t.Error("stored record is missing its internal date")
	}

	if cursor, _ := cursorRepo.get(testUserID); cursor != 120 {
		t.Errorf("cursor = %d, want 120", cursor)
	}

	_, embeds, changes := bus.snapshot()
	if len(embeds) != 1 || !reflect.DeepEqual(embeds[0].EmailIDs, []string{"m1", "m2"}) {
		t.Errorf("embedding events = %+v, want one with [m1 m2]", embeds)
	}
	if len(changes) != 1 || !reflect.DeepEqual(changes[0].ChangedEmailIDs, []string{"m1", "m2"}) {
		t.Errorf("change events = %+v, want one with [m1 m2]", changes)
	}
}

func TestMixedPageWithContinuationThenTerminal(t *testing.T) {
	emailRepo := newMemEmailRepo()
	emailRepo.SaveBatch(storedEmail("m4", testUserID))
	cursorRepo := newMemCursorRepo()
	cursorRepo.SetCursor(testUserID, 100)
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		historyFunc: func(start uint64, pageToken string) (*gmail.HistoryPage, error) {
			if pageToken == "" {
				return &gmail.HistoryPage{
					AddedIDs:      []string{"m3"},
					DeletedIDs:    []string{"m4"},
					NextPageToken: "tok",
					NewHistoryID:  130,
				}, nil
			}
			if pageToken != "tok" {
				t.Errorf("unexpected continuation token %q", pageToken)
			}
			return &gmail.HistoryPage{NewHistoryID: 130}, nil
		},
		getFunc: func(id string) (*gmail.MessageMetadata, error) { return metaFor(id), nil },
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1})

	if !emailRepo.has(testUserID, "m3") {
		t.Error("m3 was not stored")
	}
	if emailRepo.has(testUserID, "m4") {
		t.Error("m4 was not deleted")
	}

	syncs, _, _ := bus.snapshot()
	if len(syncs) != 1 {
		t.Fatalf("got %d continuation requests, want 1", len(syncs))
	}
	next := syncs[0]
	if next.ContinuationToken != "tok" || next.PageCounter != 2 {
		t.Errorf("continuation = %+v, want token tok, counter 2", next)
	}
	if !reflect.DeepEqual(next.CarriedDeletedIDs, []string{"m4"}) {
		t.Errorf("carried deletions = %v, want [m4]", next.CarriedDeletedIDs)
	}
	if cursor, _ := cursorRepo.get(testUserID); cursor != 100 {
		t.Errorf("cursor advanced to %d on a non-terminal page, want 100", cursor)
	}

	// Replay the continuation the way the bus would.
	engine.HandleSyncRequested(next)

	if cursor, _ := cursorRepo.get(testUserID); cursor != 130 {
		t.Errorf("cursor = %d after terminal page, want 130", cursor)
	}
	_, _, changes := bus.snapshot()
	if len(changes) == 0 {
		t.Fatal("no change events emitted")
	}
	last := changes[len(changes)-1]
	if !contains(last.ChangedEmailIDs, "m4") {
		t.Errorf("terminal change event %v does not fan out the carried deletion m4", last.ChangedEmailIDs)
	}
}

func TestCursorMonotonicAcrossPages(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	cursorRepo.SetCursor(testUserID, 100)
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		historyFunc: func(start uint64, pageToken string) (*gmail.HistoryPage, error) {
			switch pageToken {
			case "":
				return &gmail.HistoryPage{NextPageToken: "p2", NewHistoryID: 140}, nil
			case "p2":
				return &gmail.HistoryPage{NextPageToken: "p3", NewHistoryID: 145}, nil
			default:
				return &gmail.HistoryPage{NewHistoryID: 150}, nil
			}
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	req := event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1}
	for i := 0; i < 3; i++ {
		engine.HandleSyncRequested(req)
		syncs, _, _ := bus.snapshot()
		if len(syncs) <= i {
			break
		}
		req = syncs[i]
	}

	if cursor, _ := cursorRepo.get(testUserID); cursor != 150 {
		t.Errorf("cursor = %d, want the terminal page's 150", cursor)
	}
	// The initial seed aside, the cursor was written exactly once.
	cursorRepo.mu.Lock()
	writes := append([]uint64{}, cursorRepo.setCalls...)
	cursorRepo.mu.Unlock()
	if !reflect.DeepEqual(writes, []uint64{100, 150}) {
		t.Errorf("cursor writes = %v, want [100 150]", writes)
	}
}

func TestHistoryExpiredClearsAndReseeds(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	cursorRepo.SetCursor(testUserID, 100)
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		historyFunc: func(start uint64, pageToken string) (*gmail.HistoryPage, error) {
			return nil, fmt.Errorf("%w: too old", gmail.ErrHistoryExpired)
		},
		profileFunc: func() (*gmail.Profile, error) {
			return &gmail.Profile{HistoryID: 900}, nil
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1})

	if cursor, _ := cursorRepo.get(testUserID); cursor != 900 {
		t.Errorf("cursor = %d, want reseeded 900", cursor)
	}
	if _, history, _ := mailbox.counts(); history != 1 {
		t.Errorf("history listed %d times, want 1 (expired cursor must not be retried)", history)
	}
	syncs, embeds, changes := bus.snapshot()
	if len(syncs)+len(embeds)+len(changes) != 0 {
		t.Error("reseed after expiry must not emit events")
	}
}

func TestTransientHistoryFailureRetriesThenSucceeds(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	cursorRepo.SetCursor(testUserID, 100)
	bus := &recordingBus{}
	var attempts int32
	mailbox := &fakeMailbox{
		historyFunc: func(start uint64, pageToken string) (*gmail.HistoryPage, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, errors.New("connection reset")
			}
			return &gmail.HistoryPage{NewHistoryID: 110}, nil
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1})

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("history fetch attempted %d times, want 3", got)
	}
	if cursor, _ := cursorRepo.get(testUserID); cursor != 110 {
		t.Errorf("cursor = %d, want 110 after retried page succeeded", cursor)
	}
}

func TestLegacyPageBoundStopsWithoutRemoteCall(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		listFunc: func(pageToken string) (*gmail.MessageList, error) {
			return &gmail.MessageList{IDs: []string{"x"}}, nil
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{
		UserID:      testUserID,
		Mode:        event.SyncModeLegacyList,
		PageCounter: 11,
	})

	if list, _, _ := mailbox.counts(); list != 0 {
		t.Errorf("listing called %d times past the page bound, want 0", list)
	}
	syncs, embeds, changes := bus.snapshot()
	if len(syncs)+len(embeds)+len(changes) != 0 {
		t.Error("no events may be emitted past the legacy page bound")
	}
}

func TestLegacyPageStoresAdditionsAndChainsWithoutDeletions(t *testing.T) {
	emailRepo := newMemEmailRepo()
	emailRepo.SaveBatch(storedEmail("stale", testUserID))
	cursorRepo := newMemCursorRepo()
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		listFunc: func(pageToken string) (*gmail.MessageList, error) {
			if pageToken != "" {
				t.Errorf("unexpected page token %q", pageToken)
			}
			return &gmail.MessageList{IDs: []string{"a1"}, NextPageToken: "p2"}, nil
		},
		getFunc: func(id string) (*gmail.MessageMetadata, error) { return metaFor(id), nil },
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	engine.HandleSyncRequested(event.SyncRequested{
		UserID:      testUserID,
		Mode:        event.SyncModeLegacyList,
		PageCounter: 1,
	})

	if !emailRepo.has(testUserID, "a1") {
		t.Error("a1 was not stored")
	}
	if !emailRepo.has(testUserID, "stale") {
		t.Error("legacy page must not compute deletions, but stale record is gone")
	}
	syncs, _, _ := bus.snapshot()
	if len(syncs) != 1 || syncs[0].ContinuationToken != "p2" || syncs[0].PageCounter != 2 {
		t.Errorf("continuation = %+v, want legacy page 2 with token p2", syncs)
	}
	if syncs[0].Mode != event.SyncModeLegacyList {
		t.Errorf("continuation mode = %q, want legacy-list", syncs[0].Mode)
	}
}

func TestConcurrentRequestsForOneUserAreSerialized(t *testing.T) {
	emailRepo := newMemEmailRepo()
	cursorRepo := newMemCursorRepo()
	cursorRepo.SetCursor(testUserID, 100)
	bus := &recordingBus{}

	var running, maxRunning int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	mailbox := &fakeMailbox{
		historyFunc: func(start uint64, pageToken string) (*gmail.HistoryPage, error) {
			cur := atomic.AddInt32(&running, 1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
					break
				}
			}
			started <- struct{}{}
			<-release
			atomic.AddInt32(&running, -1)
			return &gmail.HistoryPage{NewHistoryID: 101}, nil
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	var wg sync.WaitGroup
	req := event.SyncRequested{UserID: testUserID, Mode: event.SyncModeHistory, PageCounter: 1}
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.HandleSyncRequested(req)
	}()

	<-started // first run is inside the remote call

	// Second request for the same user arrives mid-run; it must park,
	// not start a second remote walk.
	engine.HandleSyncRequested(req)
	if got := atomic.LoadInt32(&running); got != 1 {
		t.Errorf("%d history fetches in flight, want 1", got)
	}

	close(release)
	wg.Wait()

	// The parked request ran after the first completed.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred request never ran")
	}
	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	if _, history, _ := mailbox.counts(); history != 2 {
		t.Errorf("history fetched %d times, want 2 (one per request)", history)
	}
}

func TestReconcileMailboxDiffsCompleteListing(t *testing.T) {
	emailRepo := newMemEmailRepo()
	emailRepo.SaveBatch(storedEmail("A", testUserID))
	emailRepo.SaveBatch(storedEmail("B", testUserID))
	emailRepo.SaveBatch(storedEmail("C", testUserID))
	cursorRepo := newMemCursorRepo()
	bus := &recordingBus{}
	mailbox := &fakeMailbox{
		listFunc: func(pageToken string) (*gmail.MessageList, error) {
			if pageToken == "" {
				return &gmail.MessageList{IDs: []string{"A"}, NextPageToken: "p2"}, nil
			}
			return &gmail.MessageList{IDs: []string{"C"}}, nil
		},
	}
	engine, _ := newTestEngine(emailRepo, cursorRepo, mailbox, bus)

	removed, err := engine.ReconcileMailbox(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("ReconcileMailbox: %v", err)
	}
	if !reflect.DeepEqual(removed, []string{"B"}) {
		t.Errorf("removed = %v, want [B]", removed)
	}
	if !emailRepo.has(testUserID, "A") || !emailRepo.has(testUserID, "C") {
		t.Error("records present remotely must survive reconciliation")
	}
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
