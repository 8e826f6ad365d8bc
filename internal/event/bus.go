package event

import (
	"log"
	"sync"
)

// Bus is the in-process publish/subscribe fabric between the sync
// engine and its consumers. Publishing never blocks the caller: each
// event kind has a buffered queue drained by a dispatcher goroutine,
// and every handler invocation runs in its own goroutine. Ordering per
// user is the orchestrator's job, not the bus's.
type Bus struct {
	syncCh   chan SyncRequested
	embedCh  chan EmbeddingRequested
	changeCh chan MailboxChanged

	mu             sync.RWMutex
	syncHandlers   []func(SyncRequested)
	embedHandlers  []func(EmbeddingRequested)
	changeHandlers []func(MailboxChanged)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBus creates an event bus with bounded queues. The embedding queue
// is the largest because its consumer is the slowest; when any queue is
// full the event is dropped and logged rather than blocking the sync path.
func NewBus() *Bus {
	return &Bus{
		syncCh:   make(chan SyncRequested, 256),
		embedCh:  make(chan EmbeddingRequested, 1000),
		changeCh: make(chan MailboxChanged, 256),
		stopCh:   make(chan struct{}),
	}
}

// SubscribeSyncRequested registers a handler. Handlers must be
// registered before Run is started.
func (b *Bus) SubscribeSyncRequested(h func(SyncRequested)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncHandlers = append(b.syncHandlers, h)
}

func (b *Bus) SubscribeEmbeddingRequested(h func(EmbeddingRequested)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.embedHandlers = append(b.embedHandlers, h)
}

func (b *Bus) SubscribeMailboxChanged(h func(MailboxChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changeHandlers = append(b.changeHandlers, h)
}

// PublishSyncRequested enqueues a sync request. Best-effort: a full
// queue drops the request, which only defers work until the next poll.
func (b *Bus) PublishSyncRequested(ev SyncRequested) {
	select {
	case b.syncCh <- ev:
	default:
		log.Printf("[EventBus] sync queue full, dropping request for user %s", ev.UserID)
	}
}

func (b *Bus) PublishEmbeddingRequested(ev EmbeddingRequested) {
	select {
	case b.embedCh <- ev:
	default:
		log.Printf("[EventBus] embedding queue full, dropping batch %s (%d emails)", ev.BatchMarker, len(ev.EmailIDs))
	}
}

func (b *Bus) PublishMailboxChanged(ev MailboxChanged) {
	select {
	case b.changeCh <- ev:
	default:
		log.Printf("[EventBus] change queue full, dropping notification for user %s", ev.UserID)
	}
}

// Run starts the dispatcher goroutines. Call once, after subscriptions.
func (b *Bus) Run() {
	go func() {
		for {
			select {
			case ev := <-b.syncCh:
				b.mu.RLock()
				handlers := b.syncHandlers
				b.mu.RUnlock()
				for _, h := range handlers {
					go h(ev)
				}
			case <-b.stopCh:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case ev := <-b.embedCh:
				b.mu.RLock()
				handlers := b.embedHandlers
				b.mu.RUnlock()
				for _, h := range handlers {
					go h(ev)
				}
			case <-b.stopCh:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case ev := <-b.changeCh:
				b.mu.RLock()
				handlers := b.changeHandlers
				b.mu.RUnlock()
				for _, h := range handlers {
					go h(ev)
				}
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop shuts the dispatchers down. Queued events are discarded.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
