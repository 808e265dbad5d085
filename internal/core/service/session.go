package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/port"
)

const evictTimeout = 5 * time.Second

// Session is everything one browser holds: its catalog view, its ledger and
// the operations over them.
type Session struct {
	ID       string
	Catalog  *CatalogCache
	Ledger   *Ledger
	Cart     *Cart
	Checkout *Checkout

	lastSeen time.Time
}

type SessionConfig struct {
	IdleTTL       time.Duration
	FailurePolicy FailurePolicy
}

// Sessions creates sessions on first use and evicts idle ones.
type Sessions struct {
	gateway   port.ReservationGateway
	snapshots port.SnapshotRepository
	attempts  port.CheckoutRepository
	publisher port.OutcomePublisher
	cfg       SessionConfig
	log       logrus.FieldLogger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	tokens   map[string]string
}

func NewSessions(
	gateway port.ReservationGateway,
	snapshots port.SnapshotRepository,
	attempts port.CheckoutRepository,
	publisher port.OutcomePublisher,
	cfg SessionConfig,
	log logrus.FieldLogger,
) *Sessions {
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = ReleaseOnFailure
	}
	return &Sessions{
		gateway:   gateway,
		snapshots: snapshots,
		attempts:  attempts,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		sessions:  make(map[string]*Session),
		tokens:    make(map[string]string),
	}
}

// Get returns the session for id, creating an empty one if needed.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(id)
}

func (s *Sessions) getLocked(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		catalog := NewCatalogCache(s.gateway)
		ledger := NewLedger()
		cart := NewCart(id, s.gateway, catalog, ledger, s.snapshots, s.log)
		sess = &Session{
			ID:       id,
			Catalog:  catalog,
			Ledger:   ledger,
			Cart:     cart,
			Checkout: NewCheckout(id, cart, s.gateway, s.attempts, s.publisher, s.cfg.FailurePolicy, s.log),
		}
		s.sessions[id] = sess
	}
	sess.lastSeen = s.now()
	return sess
}

// BindToken remembers which session opened the payment with token.
func (s *Sessions) BindToken(token, id string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = id
}

// ForToken returns the session that opened the payment with token, or the
// session for fallbackID when the token is unknown. The payment leg may
// return without the browser's session cookie. It returns nil when neither
// identifies a session.
func (s *Sessions) ForToken(token, fallbackID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.tokens[token]; ok && token != "" {
		return s.getLocked(id)
	}
	if fallbackID == "" {
		return nil
	}
	return s.getLocked(fallbackID)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run evicts idle sessions until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	if s.cfg.IdleTTL <= 0 {
		return
	}

	interval := s.cfg.IdleTTL / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle(ctx)
		}
	}
}

// EvictIdle drops sessions not seen for IdleTTL, releasing what they hold.
func (s *Sessions) EvictIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.IdleTTL)

	s.mu.Lock()
	var idle []*Session
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	for token, id := range s.tokens {
		if _, ok := s.sessions[id]; !ok {
			delete(s.tokens, token)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		evictCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), evictTimeout)
		if err := sess.Cart.ReleaseAll(evictCtx); err != nil {
			s.log.WithField("session", sess.ID).WithError(err).Warn("release on eviction failed")
		}
		cancel()
	}
	if len(idle) > 0 {
		s.log.WithField("count", len(idle)).Info("evicted idle sessions")
	}
	return len(idle)
}
