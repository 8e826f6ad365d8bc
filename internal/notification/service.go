package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	authrepo "mailsync-backend/internal/auth/repository"
	"mailsync-backend/internal/event"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/sse"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes to the Pub/Sub topic
// registered via Users.Watch.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// SyncPublisher originates sync work for a user.
type SyncPublisher interface {
	PublishSyncRequested(event.SyncRequested)
}

// Service bridges the sync engine to the outside world in both
// directions: Gmail push notifications become sync requests, and
// mailbox-changed events become SSE and FCM deliveries.
type Service struct {
	pubsubClient *pubsub.Client
	sseManager   *sse.Manager
	userRepo     authrepo.UserRepository
	fcmRepo      authrepo.FCMTokenRepository
	fcmClient    *fcm.Client
	publisher    SyncPublisher
	topicName    string
	subName      string

	// Gmail re-posts notifications aggressively; remember the last
	// historyId seen per user so duplicates do not fan out twice.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(
	projectID, topicName, credentialsFile string,
	sseManager *sse.Manager,
	userRepo authrepo.UserRepository,
	fcmRepo authrepo.FCMTokenRepository,
	fcmClient *fcm.Client,
	publisher SyncPublisher,
) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:  client,
		sseManager:    sseManager,
		userRepo:      userRepo,
		fcmRepo:       fcmRepo,
		fcmClient:     fcmClient,
		publisher:     publisher,
		topicName:     topicName,
		subName:       topicName + "-sub",
		lastHistoryID: make(map[string]uint64),
	}, nil
}

// Start consumes the Pub/Sub subscription until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] starting listener on topic %s, subscription %s", s.topicName, s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] created subscription %s", s.subName)
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] receive loop ended: %v", err)
	}
}

// handleMessage turns a Gmail push notification into a sync request.
// The actual history walk belongs to the sync engine; this path only
// originates work.
func (s *Service) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] failed to unmarshal notification: %v", err)
		return
	}

	user, err := s.userRepo.FindByEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] error finding user %s: %v", notification.EmailAddress, err)
		return
	}
	if user == nil {
		log.Printf("[PubSub] no user for address %s", notification.EmailAddress)
		return
	}

	s.mu.Lock()
	lastHID, seen := s.lastHistoryID[user.ID]
	if seen && notification.HistoryID <= lastHID {
		s.mu.Unlock()
		log.Printf("[PubSub] skipping duplicate notification for user %s (historyId %d <= %d)", user.ID, notification.HistoryID, lastHID)
		return
	}
	s.lastHistoryID[user.ID] = notification.HistoryID
	s.mu.Unlock()

	log.Printf("[PubSub] push for %s (historyId %d), requesting sync", notification.EmailAddress, notification.HistoryID)
	s.publisher.PublishSyncRequested(event.SyncRequested{
		UserID:      user.ID,
		Mode:        event.SyncModeHistory,
		PageCounter: 1,
	})
}

// HandleMailboxChanged is the bus entry point for mirror changes: the
// owning user's clients get an SSE event, and their devices an FCM push.
func (s *Service) HandleMailboxChanged(ev event.MailboxChanged) {
	if len(ev.ChangedEmailIDs) == 0 {
		return
	}

	if s.sseManager != nil {
		s.sseManager.SendToUser(ev.UserID, "mailbox_changed", map[string]interface{}{
			"changedEmailIds": ev.ChangedEmailIDs,
			"timestamp":       time.Now(),
		})
	}

	if s.fcmClient == nil || s.fcmRepo == nil {
		return
	}
	go s.pushToDevices(ev)
}

func (s *Service) pushToDevices(ev event.MailboxChanged) {
	tokens, err := s.fcmRepo.GetTokensByUserID(ev.UserID)
	if err != nil {
		log.Printf("[FCM] error getting tokens for user %s: %v", ev.UserID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	body := "1 message changed in your mailbox"
	if n := len(ev.ChangedEmailIDs); n > 1 {
		body = fmt.Sprintf("%d messages changed in your mailbox", n)
	}

	failedTokens, err := s.fcmClient.SendToDevices(context.Background(), tokenStrings, fcm.NotificationData{
		Title: "Mailbox updated",
		Body:  body,
		Data: map[string]string{
			"type":         "mailbox_changed",
			"changedCount": fmt.Sprintf("%d", len(ev.ChangedEmailIDs)),
		},
	})
	if err != nil {
		log.Printf("[FCM] error sending notifications: %v", err)
		return
	}

	for _, token := range failedTokens {
		if err := s.fcmRepo.DeleteToken(token); err != nil {
			log.Printf("[FCM] failed to clean up dead token: %v", err)
		}
	}
}
