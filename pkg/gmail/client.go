package gmail

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenUpdateFunc receives refreshed OAuth tokens so the caller can
// persist them.
type TokenUpdateFunc func(token *oauth2.Token) error

// MessageList is one page of a full mailbox listing.
type MessageList struct {
	IDs           []string
	NextPageToken string
}

// MessageMetadata is the header-level view of one remote message.
type MessageMetadata struct {
	MessageID    string
	ThreadID     string
	Subject      string
	Sender       string
	Snippet      string
	InternalDate time.Time
}

// HistoryPage is one page of the history delta feed.
type HistoryPage struct {
	AddedIDs      []string
	DeletedIDs    []string
	NextPageToken string
	// NewHistoryID is the mailbox's current history id as reported by
	// this response; callers persist it only after the terminal page.
	NewHistoryID uint64
}

// Profile is the account-level state used to seed a sync cursor.
type Profile struct {
	EmailAddress string
	HistoryID    uint64
}

// Mailbox is the narrow remote surface the sync engine consumes. All
// variability of the underlying API is isolated behind it.
type Mailbox interface {
	ListMessages(ctx context.Context, pageToken string, maxResults int64, query string) (*MessageList, error)
	GetMessageMetadata(ctx context.Context, messageID string) (*MessageMetadata, error)
	ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryPage, error)
	GetProfile(ctx context.Context) (*Profile, error)
	Watch(ctx context.Context, topicName string) error
}

// Service builds authenticated Mailbox clients from stored user tokens.
type Service struct {
	clientID     string
	clientSecret string
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// notifyTokenSource wraps an oauth2 token source and invokes a callback
// whenever the access token changes, so refreshed tokens survive restarts.
type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// MailboxFor creates a Mailbox backed by the user's OAuth tokens.
// onTokenRefresh is called when the access token gets refreshed.
func (s *Service) MailboxFor(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (Mailbox, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Force a refresh on first use when we can, so a stale access token
	// never produces a spurious auth failure.
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return &mailbox{srv: srv}, nil
}

type mailbox struct {
	srv *gmail.Service
}

func (m *mailbox) ListMessages(ctx context.Context, pageToken string, maxResults int64, query string) (*MessageList, error) {
	call := m.srv.Users.Messages.List("me").IncludeSpamTrash(false)
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	if query != "" {
		call = call.Q(query)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify(err, callList)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return &MessageList{IDs: ids, NextPageToken: resp.NextPageToken}, nil
}

func (m *mailbox) GetMessageMetadata(ctx context.Context, messageID string) (*MessageMetadata, error) {
	msg, err := m.srv.Users.Messages.Get("me", messageID).
		Format("metadata").
		MetadataHeaders("Subject", "From", "Date").
		Context(ctx).Do()
	if err != nil {
		return nil, classify(err, callGetMessage)
	}

	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	return &MessageMetadata{
		MessageID:    msg.Id,
		ThreadID:     msg.ThreadId,
		Subject:      getHeader(headers, "Subject"),
		Sender:       getHeader(headers, "From"),
		Snippet:      msg.Snippet,
		InternalDate: time.Unix(msg.InternalDate/1000, 0),
	}, nil
}

func (m *mailbox) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryPage, error) {
	call := m.srv.Users.History.List("me").
		StartHistoryId(startHistoryID).
		MaxResults(100)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify(err, callListHistory)
	}

	page := &HistoryPage{
		NextPageToken: resp.NextPageToken,
		NewHistoryID:  resp.HistoryId,
	}

	// A message can appear in several history records on one page;
	// collapse to one entry per id.
	seenAdded := make(map[string]bool)
	seenDeleted := make(map[string]bool)
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil || seenAdded[added.Message.Id] {
				continue
			}
			seenAdded[added.Message.Id] = true
			page.AddedIDs = append(page.AddedIDs, added.Message.Id)
		}
		for _, deleted := range h.MessagesDeleted {
			if deleted.Message == nil || seenDeleted[deleted.Message.Id] {
				continue
			}
			seenDeleted[deleted.Message.Id] = true
			page.DeletedIDs = append(page.DeletedIDs, deleted.Message.Id)
		}
	}
	return page, nil
}

func (m *mailbox) GetProfile(ctx context.Context) (*Profile, error) {
	profile, err := m.srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, classify(err, callGetProfile)
	}
	return &Profile{
		EmailAddress: profile.EmailAddress,
		HistoryID:    profile.HistoryId,
	}, nil
}

// Watch subscribes the mailbox to push notifications on a Pub/Sub topic.
func (m *mailbox) Watch(ctx context.Context, topicName string) error {
	// Only one push notification client is allowed per user; clear any
	// existing watch first.
	_ = m.srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	resp, err := m.srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to watch mailbox: %v", err)
	}
	log.Printf("[Gmail] watch started, expiration: %d, historyId: %d", resp.Expiration, resp.HistoryId)
	return nil
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}
