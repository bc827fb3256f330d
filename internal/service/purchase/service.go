package purchase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"cntrlx-store/internal/domain"
	"cntrlx-store/internal/entitlement"
	"cntrlx-store/internal/payment"
	purchaserepo "cntrlx-store/internal/repository/purchase"
)

type sessionSource interface {
	GetSession(ctx context.Context, id string, withLineItems bool) (*payment.Session, error)
	ParseWebhook(payload []byte, signature string) (*payment.Event, error)
}

// Service records purchases exactly once per (user, session) and serves
// the purchase views built on top of them.
type Service struct {
	repo     purchaserepo.Repository
	provider sessionSource
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Service. window is the download window reported on views.
func New(repo purchaserepo.Repository, provider sessionSource, window time.Duration, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		provider: provider,
		window:   window,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WebhookResult is the acknowledgement for one delivered event.
type WebhookResult struct {
	Received bool
	// Recorded is true only when this delivery created the purchase row.
	Recorded bool
}

// HandleWebhook verifies and applies a provider event. Events that carry
// nothing to record are acknowledged so the provider stops redelivering.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if signature == "" {
		return nil, domain.Validation(domain.ReasonInvalidSignature, "Missing webhook signature")
	}
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, domain.Configuration("Webhook verification is not configured")
		}
		s.logger.WarnContext(ctx, "webhook rejected", "err", err)
		return nil, domain.Validation(domain.ReasonInvalidSignature, "Invalid webhook signature")
	}

	ack := &WebhookResult{Received: true}
	if ev.Type != payment.EventCheckoutCompleted && ev.Type != payment.EventCheckoutAsyncPaymentSucceed {
		return ack, nil
	}
	sess := ev.Session
	if sess == nil {
		s.logger.WarnContext(ctx, "checkout event without session", "event_id", ev.ID)
		return ack, nil
	}
	if !sess.Paid {
		s.logger.InfoContext(ctx, "checkout not paid yet",
			"session_id", sess.ID, "payment_status", sess.PaymentStatus)
		return ack, nil
	}
	userID := sess.UserID()
	if userID == "" {
		s.logger.WarnContext(ctx, "checkout session has no user id", "session_id", sess.ID)
		return ack, nil
	}

	items, err := s.itemsFor(ctx, sess)
	if err != nil {
		return nil, domain.Upstream("Failed to retrieve purchase details", err)
	}
	_, inserted, err := s.repo.Insert(ctx, purchaserepo.CreateInput{
		UserID:    userID,
		SessionID: sess.ID,
		Items:     items,
	})
	if err != nil {
		return nil, domain.Upstream("Failed to record purchase", err)
	}
	if inserted {
		s.logger.InfoContext(ctx, "purchase recorded",
			"user_id", userID, "session_id", sess.ID, "items", len(items), "event_id", ev.ID)
	} else {
		s.logger.InfoContext(ctx, "purchase already recorded", "user_id", userID, "session_id", sess.ID)
	}
	ack.Recorded = inserted
	return ack, nil
}

// Recovery outcomes.
const (
	RecoverRecorded      = "recorded"
	RecoverAlreadyExists = "already_exists"
)

// RecoverResult reports a recovery attempt. Recovered is false with Reason
// RecoverAlreadyExists when the purchase was on file already.
type RecoverResult struct {
	Recovered bool
	Reason    string
	ItemCount int
}

// Recover records a paid session on behalf of the user who paid for it.
func (s *Service) Recover(ctx context.Context, userID, sessionID string) (*RecoverResult, error) {
	if userID == "" {
		return nil, domain.AuthRequired("Sign in required")
	}
	if sessionID == "" {
		return nil, domain.Validation(domain.ReasonInvalidRequest, "session_id is required")
	}

	existing, err := s.repo.Get(ctx, userID, sessionID)
	switch {
	case err == nil:
		return &RecoverResult{Reason: RecoverAlreadyExists, ItemCount: len(existing.Items)}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, domain.Upstream("Failed to look up purchase", err)
	}

	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Paid {
		return nil, domain.Validation(domain.ReasonPaymentIncomplete, "Payment has not been completed for this session")
	}

	items, err := s.itemsFor(ctx, sess)
	if err != nil {
		return nil, domain.Upstream("Failed to retrieve purchase details", err)
	}
	p, inserted, err := s.repo.Insert(ctx, purchaserepo.CreateInput{
		UserID:    userID,
		SessionID: sessionID,
		Items:     items,
	})
	if err != nil {
		return nil, domain.Upstream("Failed to record purchase", err)
	}
	if !inserted {
		return &RecoverResult{Reason: RecoverAlreadyExists, ItemCount: len(p.Items)}, nil
	}
	s.logger.InfoContext(ctx, "purchase recovered", "user_id", userID, "session_id", sessionID, "items", len(items))
	return &RecoverResult{Recovered: true, Reason: RecoverRecorded, ItemCount: len(items)}, nil
}

// View is a stored purchase with its derived download state.
type View struct {
	domain.Purchase
	ExpiresAt    time.Time
	Expired      bool
	Entitlements entitlement.Set
}

// List returns the user's purchases, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	if userID == "" {
		return nil, domain.AuthRequired("Sign in required")
	}
	purchases, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.Upstream("Failed to load purchases", err)
	}
	now := s.now()
	views := make([]View, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, View{
			Purchase:     p,
			ExpiresAt:    p.ExpiresAt(s.window),
			Expired:      p.Expired(now, s.window),
			Entitlements: entitlement.Derive(p.Items),
		})
	}
	return views, nil
}

// Verification is the success page's view of a checkout session.
type Verification struct {
	Paid         bool
	Items        []domain.PurchasedItem
	Entitlements entitlement.Set
}

// VerifySession confirms a checkout the caller paid for and reports what it
// unlocks.
func (s *Service) VerifySession(ctx context.Context, userID, sessionID string) (*Verification, error) {
	if userID == "" {
		return nil, domain.AuthRequired("Sign in required")
	}
	if sessionID == "" {
		return nil, domain.Validation(domain.ReasonInvalidRequest, "session_id is required")
	}
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Paid {
		return nil, domain.Validation(domain.ReasonPaymentIncomplete, "Payment not completed")
	}
	items, err := s.itemsFor(ctx, sess)
	if err != nil {
		return nil, domain.Upstream("Failed to retrieve purchase details", err)
	}
	return &Verification{Paid: true, Items: items, Entitlements: entitlement.Derive(items)}, nil
}

// Diagnostics summarizes what is on file for a user.
type Diagnostics struct {
	UserID        string
	PurchaseCount int
	SessionFound  bool
	Sessions      []string
}

// Debug reports the stored purchases for userID and whether sessionID, if
// given, is among them.
func (s *Service) Debug(ctx context.Context, userID, sessionID string) (*Diagnostics, error) {
	if userID == "" {
		return nil, domain.AuthRequired("Sign in required")
	}
	purchases, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.Upstream("Failed to load purchases", err)
	}
	d := &Diagnostics{UserID: userID, PurchaseCount: len(purchases), Sessions: make([]string, 0, len(purchases))}
	for _, p := range purchases {
		d.Sessions = append(d.Sessions, p.SessionID)
		if sessionID != "" && p.SessionID == sessionID {
			d.SessionFound = true
		}
	}
	return d, nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*payment.Session, error) {
	sess, err := s.provider.GetSession(ctx, sessionID, false)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSessionNotFound):
			return nil, domain.NotFound(domain.ReasonSessionNotFound, "Checkout session not found", err)
		case errors.Is(err, payment.ErrNotConfigured):
			return nil, domain.Configuration("Payments are not configured")
		default:
			return nil, domain.Upstream("Failed to retrieve checkout session", err)
		}
	}
	if sess.UserID() != userID {
		s.logger.WarnContext(ctx, "session owner mismatch", "user_id", userID, "session_id", sessionID)
		return nil, domain.Ownership()
	}
	return sess, nil
}

// itemsFor reads items from session metadata, falling back to the
// provider's line items when metadata is absent or unreadable.
func (s *Service) itemsFor(ctx context.Context, sess *payment.Session) ([]domain.PurchasedItem, error) {
	items, err := payment.DecodeItems(sess.Metadata)
	if err != nil {
		s.logger.WarnContext(ctx, "unreadable items metadata, using line items", "session_id", sess.ID, "err", err)
	}
	if len(items) > 0 {
		return items, nil
	}

	lines := sess.LineItems
	if lines == nil {
		full, err := s.provider.GetSession(ctx, sess.ID, true)
		if err != nil {
			return nil, err
		}
		lines = full.LineItems
	}
	out := make([]domain.PurchasedItem, 0, len(lines))
	for _, li := range lines {
		out = append(out, domain.PurchasedItem{
			ProductID: li.ProductID,
			Name:      li.Name,
			Price:     domain.CentsToPrice(li.AmountTotal),
		})
	}
	return out, nil
}
