package usecase

import (
	"context"

	"mailsync-backend/internal/event"
	"mailsync-backend/pkg/gmail"
)

// MailboxProvider builds an authenticated remote mailbox client from a
// user's stored OAuth tokens. Implemented by pkg/gmail.Service.
type MailboxProvider interface {
	MailboxFor(ctx context.Context, accessToken, refreshToken string, onTokenRefresh gmail.TokenUpdateFunc) (gmail.Mailbox, error)
}

// EventBus is the slice of the event fabric the sync engine publishes to.
type EventBus interface {
	PublishSyncRequested(event.SyncRequested)
	PublishEmbeddingRequested(event.EmbeddingRequested)
	PublishMailboxChanged(event.MailboxChanged)
}

// SessionRegistry reports whether a user currently holds an open client
// connection. Implemented by pkg/sse.Manager.
type SessionRegistry interface {
	HasUser(userID string) bool
}

// Notifier pushes lightweight events to a user's connected clients.
type Notifier interface {
	SendToUser(userID, eventType string, payload interface{})
}
