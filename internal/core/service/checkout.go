package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// FailurePolicy decides what happens to the reservations when a payment
// comes back aborted or rejected.
type FailurePolicy string

const (
	ReleaseOnFailure FailurePolicy = "release"
	KeepOnFailure    FailurePolicy = "keep"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReleaseOnFailure:
		return ReleaseOnFailure, nil
	case KeepOnFailure:
		return KeepOnFailure, nil
	}
	return "", fmt.Errorf("unknown checkout failure policy %q", s)
}

// Checkout drives one client's payment: Idle, Submitting, AwaitingRedirect,
// then on the return page ConfirmingCommit and a terminal outcome.
type Checkout struct {
	clientID  string
	cart      *Cart
	gateway   port.ReservationGateway
	attempts  port.CheckoutRepository
	publisher port.OutcomePublisher
	policy    FailurePolicy
	log       logrus.FieldLogger
	now       func() time.Time

	confirmMu sync.Mutex

	mu      sync.Mutex
	state   domain.CheckoutState
	intent  *domain.TransactionIntent
	outcome *domain.CommitOutcome
}

func NewCheckout(
	clientID string,
	cart *Cart,
	gateway port.ReservationGateway,
	attempts port.CheckoutRepository,
	publisher port.OutcomePublisher,
	policy FailurePolicy,
	log logrus.FieldLogger,
) *Checkout {
	return &Checkout{
		clientID:  clientID,
		cart:      cart,
		gateway:   gateway,
		attempts:  attempts,
		publisher: publisher,
		policy:    policy,
		log:       log.WithField("session", clientID),
		now:       time.Now,
		state:     domain.StateIdle,
	}
}

// Pay opens a payment for the whole cart. The cart is not cleared here; it
// is only cleared once the payment is confirmed authorized.
func (c *Checkout) Pay(ctx context.Context) (domain.TransactionIntent, error) {
	c.mu.Lock()
	if c.state == domain.StateSubmitting || c.state == domain.StateConfirmingCommit {
		c.mu.Unlock()
		return domain.TransactionIntent{}, domain.ErrCheckoutInProgress
	}
	c.state = domain.StateSubmitting
	c.mu.Unlock()

	var intent domain.TransactionIntent
	err := c.cart.Checkout(ctx, func(ctx context.Context, items []domain.Item) error {
		created, err := c.gateway.CreateTransaction(ctx, items)
		if err != nil {
			return err
		}
		if created.Token == "" || created.RedirectURL == "" {
			return &domain.GatewayError{Kind: domain.ErrTransactionCreationFailed, Reason: "no transaction in response"}
		}

		created.Items = append([]domain.Item(nil), items...)
		created.CreatedAt = c.now()
		intent = created
		return nil
	})
	if err != nil {
		c.setState(domain.StateIdle, nil, nil)
		if errors.Is(err, domain.ErrEmptyCart) {
			return domain.TransactionIntent{}, err
		}

		c.log.WithError(err).Warn("create transaction failed")
		// stock may have moved between reserve and pay
		c.cart.RefreshCatalog(ctx)
		return domain.TransactionIntent{}, err
	}

	if err := c.attempts.RecordIntent(ctx, c.clientID, intent); err != nil {
		c.log.WithError(err).Warn("record checkout attempt failed")
	}

	c.setState(domain.StateAwaitingRedirect, &intent, nil)
	c.log.WithField("items", len(intent.Items)).Info("transaction created")

	return intent, nil
}

// Confirm turns the return-page parameters into a terminal outcome.
func (c *Checkout) Confirm(ctx context.Context, params domain.ReturnParams) domain.CommitOutcome {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()

	if params.Empty() {
		outcome := domain.MissingToken()
		c.setState(outcome.State(), c.Intent(), &outcome)
		return outcome
	}

	c.mu.Lock()
	c.state = domain.StateConfirmingCommit
	c.mu.Unlock()

	token := strings.TrimSpace(params.Token)
	log := c.log.WithField("token", token)

	if token != "" {
		recorded, err := c.attempts.FindOutcome(ctx, token)
		if err != nil {
			log.WithError(err).Warn("lookup recorded outcome failed")
		}
		if recorded != nil {
			log.WithField("outcome", recorded.Kind).Info("replaying recorded outcome")
			c.setState(recorded.State(), nil, recorded)
			return *recorded
		}
	}

	var outcome domain.CommitOutcome
	if token != "" {
		status, err := c.gateway.CommitStatus(port.ContextWithClientID(ctx, c.clientID), token)
		if err != nil {
			log.WithError(err).Warn("commit status unavailable")
			outcome = domain.TransportError(token)
		} else {
			outcome = domain.OutcomeFromStatus(token, status)
		}
	} else {
		outcome = domain.OutcomeFromStatus("", domain.CommitStatus{Status: params.Status, Order: params.Order})
	}

	c.apply(ctx, outcome)

	if outcome.Final() {
		c.setState(outcome.State(), nil, &outcome)
	} else {
		c.setState(outcome.State(), c.Intent(), &outcome)
	}
	log.WithField("outcome", outcome.Kind).Info("checkout confirmed")

	return outcome
}

func (c *Checkout) apply(ctx context.Context, outcome domain.CommitOutcome) {
	switch outcome.Kind {
	case domain.OutcomeAuthorized:
		c.cart.Settle(ctx)
	case domain.OutcomeAborted, domain.OutcomeRejected:
		if c.policy == ReleaseOnFailure {
			if err := c.cart.ReleaseAll(ctx); err != nil {
				c.log.WithError(err).Warn("release after failed payment failed")
			}
		}
	default:
		return
	}

	if outcome.Token != "" {
		if err := c.attempts.RecordOutcome(ctx, outcome); err != nil {
			c.log.WithError(err).Warn("record outcome failed")
		}
	}
	if err := c.publisher.Publish(ctx, c.clientID, outcome); err != nil {
		c.log.WithError(err).Warn("publish outcome failed")
	}
}

// Reset drops any pending attempt; a store page load starts over from Idle.
func (c *Checkout) Reset() {
	c.setState(domain.StateIdle, nil, nil)
}

func (c *Checkout) State() domain.CheckoutState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Checkout) Intent() *domain.TransactionIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intent
}

func (c *Checkout) Outcome() *domain.CommitOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

func (c *Checkout) setState(state domain.CheckoutState, intent *domain.TransactionIntent, outcome *domain.CommitOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.intent = intent
	c.outcome = outcome
}
