package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the API base, for tests and local mocks.
	APIURL  string
	Timeout time.Duration
}

// Stripe implements Provider on Stripe Checkout.
type Stripe struct {
	sessions      *session.Client
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
	logger        *slog.Logger
}

// NewStripe builds a Stripe provider. Calls are not retried; a run of
// server-side failures opens the breaker and fails fast for a while.
func NewStripe(cfg StripeConfig, logger *slog.Logger) *Stripe {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "stripe")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     slogLeveled{logger: logger},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	s := &Stripe{
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
	if cfg.SecretKey != "" {
		s.sessions = &session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		}
	}
	s.breaker = gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *Stripe) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	if s.sessions == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.UserID),
		Metadata:          in.Metadata,
	}
	params.Context = ctx
	for _, li := range in.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(li.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(li.Name),
					Metadata: map[string]string{"product_id": li.ProductID},
				},
			},
		})
	}

	cs, err := s.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return s.sessions.New(params)
	})
	if err != nil {
		return nil, s.wrap("create checkout session", err)
	}
	s.logger.InfoContext(ctx, "checkout session created", "session_id", cs.ID, "user_id", in.UserID, "line_items", len(in.LineItems))
	return toSession(cs), nil
}

func (s *Stripe) GetSession(ctx context.Context, id string, withLineItems bool) (*Session, error) {
	if s.sessions == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if withLineItems {
		params.AddExpand("line_items")
		params.AddExpand("line_items.data.price.product")
	}
	cs, err := s.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return s.sessions.Get(id, params)
	})
	if err != nil {
		return nil, s.wrap("retrieve checkout session", err)
	}
	return toSession(cs), nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	if signature == "" {
		return nil, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		if ev.Data == nil {
			return nil, fmt.Errorf("event %s: missing data", ev.ID)
		}
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("event %s: decode checkout session: %w", ev.ID, err)
		}
		out.Session = toSession(&cs)
	}
	return out, nil
}

func (s *Stripe) wrap(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	var serr *stripe.Error
	if errors.As(err, &serr) && (serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing) {
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isServerFault reports whether err counts against the breaker. Client
// errors such as unknown sessions are the caller's problem, not Stripe's.
func isServerFault(err error) bool {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return serr.HTTPStatusCode == 0 || serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}

func toSession(cs *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:                cs.ID,
		URL:               cs.URL,
		PaymentStatus:     string(cs.PaymentStatus),
		ClientReferenceID: cs.ClientReferenceID,
		Metadata:          cs.Metadata,
		Paid: cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if cs.LineItems != nil {
		for _, li := range cs.LineItems.Data {
			if li == nil {
				continue
			}
			item := SessionLineItem{Name: li.Description, AmountTotal: li.AmountTotal}
			if li.Price != nil && li.Price.Product != nil {
				item.ProductID = li.Price.Product.Metadata["product_id"]
				if item.Name == "" {
					item.Name = li.Price.Product.Name
				}
			}
			out.LineItems = append(out.LineItems, item)
		}
	}
	return out
}
