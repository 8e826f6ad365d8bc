package embedding

import (
	"context"
	"log"

	"mailsync-backend/internal/email/repository"
	"mailsync-backend/internal/event"
)

const (
	defaultWorkers = 5
	queueSize      = 1000
)

// VectorIndex is the slice of the vector store the worker needs.
// Implemented by pkg/chroma.ChromaClient.
type VectorIndex interface {
	UpsertEmailEmbedding(ctx context.Context, emailID, userID, subject, body string) error
}

// Worker consumes embedding requests off the bus and indexes the named
// records. Enqueueing is best-effort: a full queue drops the batch
// rather than slowing down the sync path that produced it.
type Worker struct {
	emailRepo repository.EmailRepository
	index     VectorIndex
	jobs      chan event.EmbeddingRequested
	workers   int
	stopChan  chan struct{}
}

func NewWorker(emailRepo repository.EmailRepository, index VectorIndex, workers int) *Worker {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Worker{
		emailRepo: emailRepo,
		index:     index,
		jobs:      make(chan event.EmbeddingRequested, queueSize),
		workers:   workers,
		stopChan:  make(chan struct{}),
	}
}

// HandleEmbeddingRequested is the bus entry point.
func (w *Worker) HandleEmbeddingRequested(ev event.EmbeddingRequested) {
	if w.index == nil {
		return
	}
	select {
	case w.jobs <- ev:
	default:
		log.Printf("[EmbedWorker] queue full, dropping batch %s (%d emails)", ev.BatchMarker, len(ev.EmailIDs))
	}
}

func (w *Worker) Start() {
	if w.index == nil {
		log.Printf("[EmbedWorker] vector store unavailable, embedding disabled")
		return
	}
	log.Printf("[EmbedWorker] starting %d workers", w.workers)
	for i := 0; i < w.workers; i++ {
		go w.run()
	}
}

func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) run() {
	for {
		select {
		case job := <-w.jobs:
			w.process(job)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Worker) process(job event.EmbeddingRequested) {
	ctx := context.Background()
	indexed := make([]string, 0, len(job.EmailIDs))

	for _, id := range job.EmailIDs {
		email, err := w.emailRepo.GetByMessageID(job.UserID, id)
		if err != nil {
			log.Printf("[EmbedWorker] failed to load email %s: %v", id, err)
			continue
		}
		if email == nil {
			// Deleted again before the embedding ran.
			continue
		}
		if email.EmbeddedAt != nil {
			continue
		}

		if err := w.index.UpsertEmailEmbedding(ctx, email.MessageID, job.UserID, email.Subject, email.Snippet); err != nil {
			log.Printf("[EmbedWorker] failed to index email %s: %v", id, err)
			continue
		}
		indexed = append(indexed, id)
	}

	if len(indexed) == 0 {
		return
	}
	if err := w.emailRepo.MarkEmbedded(job.UserID, indexed); err != nil {
		log.Printf("[EmbedWorker] failed to mark %d emails embedded: %v", len(indexed), err)
		return
	}
	log.Printf("[EmbedWorker] indexed %d emails for user %s (batch %s)", len(indexed), job.UserID, job.BatchMarker)
}
