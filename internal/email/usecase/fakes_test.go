package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	"mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/event"
	"mailsync-backend/pkg/gmail"
)

// fakeMailbox scripts the remote API through function fields and counts
// the calls made against it.
type fakeMailbox struct {
	listFunc    func(pageToken string) (*gmail.MessageList, error)
	getFunc     func(messageID string) (*gmail.MessageMetadata, error)
	historyFunc func(startHistoryID uint64, pageToken string) (*gmail.HistoryPage, error)
	profileFunc func() (*gmail.Profile, error)

	mu           sync.Mutex
	listCalls    int
	historyCalls int
	profileCalls int
	getCalls     []string
}

func (f *fakeMailbox) ListMessages(ctx context.Context, pageToken string, maxResults int64, query string) (*gmail.MessageList, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.listFunc == nil {
		return nil, errors.New("unexpected ListMessages call")
	}
	return f.listFunc(pageToken)
}

func (f *fakeMailbox) GetMessageMetadata(ctx context.Context, messageID string) (*gmail.MessageMetadata, error) {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, messageID)
	f.mu.Unlock()
	if f.getFunc == nil {
		return nil, errors.New("unexpected GetMessageMetadata call")
	}
	return f.getFunc(messageID)
}

func (f *fakeMailbox) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*gmail.HistoryPage, error) {
	f.mu.Lock()
	f.historyCalls++
	f.mu.Unlock()
	if f.historyFunc == nil {
		return nil, errors.New("unexpected ListHistory call")
	}
	return f.historyFunc(startHistoryID, pageToken)
}

func (f *fakeMailbox) GetProfile(ctx context.Context) (*gmail.Profile, error) {
	f.mu.Lock()
	f.profileCalls++
	f.mu.Unlock()
	if f.profileFunc == nil {
		return nil, errors.New("unexpected GetProfile call")
	}
	return f.profileFunc()
}

func (f *fakeMailbox) Watch(ctx context.Context, topicName string) error {
	return nil
}

func (f *fakeMailbox) counts() (list, history, profile int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.historyCalls, f.profileCalls
}

// fakeProvider hands out a fixed mailbox regardless of credentials.
type fakeProvider struct {
	mailbox gmail.Mailbox
	err     error
}

func (f *fakeProvider) MailboxFor(ctx context.Context, accessToken, refreshToken string, onTokenRefresh gmail.TokenUpdateFunc) (gmail.Mailbox, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.mailbox, nil
}

// memEmailRepo is an in-memory EmailRepository.
type memEmailRepo struct {
	mu     sync.Mutex
	emails map[string]map[string]*domain.Email
	order  map[string][]string
}

func newMemEmailRepo() *memEmailRepo {
	return &memEmailRepo{
		emails: make(map[string]map[string]*domain.Email),
		order:  make(map[string][]string),
	}
}

func (m *memEmailRepo) FindExistingIDs(userID string, messageIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]bool)
	for _, id := range messageIDs {
		if _, ok := m.emails[userID][id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (m *memEmailRepo) SaveBatch(emails []*domain.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, email := range emails {
		if m.emails[email.UserID] == nil {
			m.emails[email.UserID] = make(map[string]*domain.Email)
		}
		if _, ok := m.emails[email.UserID][email.MessageID]; ok {
			continue
		}
		m.emails[email.UserID][email.MessageID] = email
		m.order[email.UserID] = append(m.order[email.UserID], email.MessageID)
	}
	return nil
}

func (m *memEmailRepo) DeleteByMessageIDs(userID string, messageIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range messageIDs {
		delete(m.emails[userID], id)
	}
	return nil
}

func (m *memEmailRepo) ListMessageIDs(userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.emails[userID]))
	for _, id := range m.order[userID] {
		if _, ok := m.emails[userID][id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memEmailRepo) GetByMessageID(userID, messageID string) (*domain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emails[userID][messageID], nil
}

func (m *memEmailRepo) ListByUser(userID string, limit, offset int) ([]*domain.Email, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*domain.Email, 0, len(m.emails[userID]))
	for _, id := range m.order[userID] {
		if email, ok := m.emails[userID][id]; ok {
			all = append(all, email)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memEmailRepo) MarkEmbedded(userID string, messageIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, id := range messageIDs {
		if email, ok := m.emails[userID][id]; ok {
			email.EmbeddedAt = &now
		}
	}
	return nil
}

func (m *memEmailRepo) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emails[userID])
}

func (m *memEmailRepo) has(userID, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.emails[userID][messageID]
	return ok
}

// storedEmail builds a pre-seeded record batch for tests.
func storedEmail(messageID, userID string) []*domain.Email {
	return []*domain.Email{{
		ID:        "row-" + messageID,
		UserID:    userID,
		MessageID: messageID,
		Subject:   "seeded " + messageID,
	}}
}

// memCursorRepo is an in-memory SyncCursorRepository.
type memCursorRepo struct {
	mu       sync.Mutex
	cursors  map[string]uint64
	setCalls []uint64
}

func newMemCursorRepo() *memCursorRepo {
	return &memCursorRepo{cursors: make(map[string]uint64)}
}

func (m *memCursorRepo) GetCursor(userID string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor, ok := m.cursors[userID]
	return cursor, ok, nil
}

func (m *memCursorRepo) SetCursor(userID string, historyID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[userID] = historyID
	m.setCalls = append(m.setCalls, historyID)
	return nil
}

func (m *memCursorRepo) ClearCursor(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, userID)
	return nil
}

func (m *memCursorRepo) get(userID string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor, ok := m.cursors[userID]
	return cursor, ok
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users []*authdomain.User
}

func (m *memUserRepo) Create(user *authdomain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, user)
	return nil
}

func (m *memUserRepo) FindByEmail(email string) (*authdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByID(id string) (*authdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Update(user *authdomain.User) error { return nil }

func (m *memUserRepo) FindWithRefreshTokens() ([]*authdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*authdomain.User
	for _, user := range m.users {
		if user.RefreshToken != "" {
			out = append(out, user)
		}
	}
	return out, nil
}

func (m *memUserRepo) SaveRefreshToken(token *authdomain.RefreshToken) error { return nil }
func (m *memUserRepo) FindRefreshToken(token string) (*authdomain.RefreshToken, error) {
	return nil, nil
}
func (m *memUserRepo) DeleteRefreshToken(token string) error { return nil }

// recordingBus captures everything published to it.
type recordingBus struct {
	mu      sync.Mutex
	syncs   []event.SyncRequested
	embeds  []event.EmbeddingRequested
	changes []event.MailboxChanged
}

func (b *recordingBus) PublishSyncRequested(ev event.SyncRequested) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncs = append(b.syncs, ev)
}

func (b *recordingBus) PublishEmbeddingRequested(ev event.EmbeddingRequested) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.embeds = append(b.embeds, ev)
}

func (b *recordingBus) PublishMailboxChanged(ev event.MailboxChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, ev)
}

func (b *recordingBus) snapshot() ([]event.SyncRequested, []event.EmbeddingRequested, []event.MailboxChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event.SyncRequested{}, b.syncs...),
		append([]event.EmbeddingRequested{}, b.embeds...),
		append([]event.MailboxChanged{}, b.changes...)
}

// fakeSessions marks a fixed set of users as connected.
type fakeSessions struct {
	online map[string]bool
}

func (f *fakeSessions) HasUser(userID string) bool { return f.online[userID] }

// fakeNotifier records SendToUser calls.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) SendToUser(userID, eventType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID+":"+eventType)
}
