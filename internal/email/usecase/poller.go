package usecase

import (
	"context"
	"log"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	authrepo "mailsync-backend/internal/auth/repository"
	"mailsync-backend/internal/event"
	"mailsync-backend/pkg/config"
)

const probePageSize = 10

// Poller originates sync requests on a fixed interval for every user
// who holds a mailbox credential and an active client session.
type Poller struct {
	userRepo authrepo.UserRepository
	sessions SessionRegistry
	provider MailboxProvider
	bus      EventBus
	notifier Notifier

	enabled     bool
	interval    time.Duration
	queryFilter string
	stopChan    chan struct{}
}

func NewPoller(
	userRepo authrepo.UserRepository,
	sessions SessionRegistry,
	provider MailboxProvider,
	bus EventBus,
	notifier Notifier,
	cfg *config.Config,
) *Poller {
	return &Poller{
		userRepo:    userRepo,
		sessions:    sessions,
		provider:    provider,
		bus:         bus,
		notifier:    notifier,
		enabled:     cfg.SyncPollEnabled,
		interval:    cfg.SyncPollInterval,
		queryFilter: cfg.SyncQueryFilter,
		stopChan:    make(chan struct{}),
	}
}

func (p *Poller) Start() {
	if !p.enabled {
		log.Printf("[Poller] disabled by configuration")
		return
	}
	log.Printf("[Poller] starting with interval %s", p.interval)
	go p.run()
}

func (p *Poller) Stop() {
	close(p.stopChan)
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce(context.Background())
		case <-p.stopChan:
			log.Printf("[Poller] stopped")
			return
		}
	}
}

// pollOnce probes every connected user. A failing user never aborts
// the loop over the others.
func (p *Poller) pollOnce(ctx context.Context) {
	users, err := p.userRepo.FindWithRefreshTokens()
	if err != nil {
		log.Printf("[Poller] failed to list users: %v", err)
		return
	}

	for _, user := range users {
		if !p.sessions.HasUser(user.ID) {
			continue
		}
		if err := p.probeUser(ctx, user); err != nil {
			log.Printf("[Poller] probe failed for user %s: %v", user.ID, err)
		}
	}
}

// probeUser runs a bounded listing as a liveliness check, pings the
// user's clients, and hands real pagination to the sync engine.
func (p *Poller) probeUser(ctx context.Context, user *authdomain.User) error {
	mailbox, err := p.provider.MailboxFor(ctx, user.AccessToken, user.RefreshToken, tokenUpdateCallback(p.userRepo, user))
	if err != nil {
		return err
	}

	list, err := mailbox.ListMessages(ctx, "", probePageSize, p.queryFilter)
	if err != nil {
		return err
	}

	if p.notifier != nil && len(list.IDs) > 0 {
		p.notifier.SendToUser(user.ID, "mailbox_ping", map[string]interface{}{
			"recentIds": list.IDs,
			"timestamp": time.Now(),
		})
	}

	p.bus.PublishSyncRequested(event.SyncRequested{
		UserID:      user.ID,
		Mode:        event.SyncModeHistory,
		PageCounter: 1,
	})
	return nil
}
