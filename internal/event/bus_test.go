package event

import (
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var mu sync.Mutex
	var gotSync []SyncRequested
	var gotEmbed []EmbeddingRequested
	var gotChange []MailboxChanged
	done := make(chan struct{}, 3)

	bus.SubscribeSyncRequested(func(ev SyncRequested) {
		mu.Lock()
		gotSync = append(gotSync, ev)
		mu.Unlock()
		done <- struct{}{}
	})
	bus.SubscribeEmbeddingRequested(func(ev EmbeddingRequested) {
		mu.Lock()
		gotEmbed = append(gotEmbed, ev)
		mu.Unlock()
		done <- struct{}{}
	})
	bus.SubscribeMailboxChanged(func(ev MailboxChanged) {
		mu.Lock()
		gotChange = append(gotChange, ev)
		mu.Unlock()
		done <- struct{}{}
	})
	bus.Run()

	bus.PublishSyncRequested(SyncRequested{UserID: "u1", Mode: SyncModeHistory, PageCounter: 1})
	bus.PublishEmbeddingRequested(EmbeddingRequested{UserID: "u1", EmailIDs: []string{"m1"}})
	bus.PublishMailboxChanged(MailboxChanged{UserID: "u1", ChangedEmailIDs: []string{"m1"}})

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotSync) != 1 || gotSync[0].UserID != "u1" {
		t.Errorf("sync deliveries = %+v", gotSync)
	}
	if len(gotEmbed) != 1 || len(gotEmbed[0].EmailIDs) != 1 {
		t.Errorf("embedding deliveries = %+v", gotEmbed)
	}
	if len(gotChange) != 1 || len(gotChange[0].ChangedEmailIDs) != 1 {
		t.Errorf("change deliveries = %+v", gotChange)
	}
}

func TestPublishNeverBlocksWhenQueueIsFull(t *testing.T) {
	bus := NewBus()
	// No Run: queues only fill up.
	for i := 0; i < 2000; i++ {
		bus.PublishEmbeddingRequested(EmbeddingRequested{UserID: "u1"})
	}
	// Reaching here means the overflow was dropped, not blocked on.
}

func TestPublishAfterStopDoesNotPanic(t *testing.T) {
	bus := NewBus()
	bus.Run()
	bus.Stop()
	bus.Stop() // idempotent
	bus.PublishSyncRequested(SyncRequested{UserID: "u1"})
}
