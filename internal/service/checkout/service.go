package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"cntrlx-store/internal/catalog"
	"cntrlx-store/internal/domain"
	"cntrlx-store/internal/payment"
)

type productCatalog interface {
	Resolve(id string) (domain.Product, bool)
	Promo(code string, now time.Time) (catalog.Promo, error)
	Currency() string
}

type sessionCreator interface {
	CreateSession(ctx context.Context, in payment.CreateSessionInput) (*payment.Session, error)
}

// Service opens hosted checkout sessions for validated carts.
type Service struct {
	catalog  productCatalog
	provider sessionCreator
	siteURL  string
	origins  []string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for promo cutoffs.
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

// New builds a Service. siteURL is the fallback redirect origin; origins
// is the allow-list of normalized origins a request may redirect back to.
func New(c productCatalog, provider sessionCreator, siteURL string, origins []string, opts ...Option) *Service {
	s := &Service{
		catalog:  c,
		provider: provider,
		siteURL:  strings.TrimRight(siteURL, "/"),
		origins:  origins,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request is a cart submitted for checkout.
type Request struct {
	UserID     string
	ProductIDs []string
	PromoCode  string
	// Origin and Referer are the raw request headers.
	Origin  string
	Referer string
}

// Result points the client at the hosted payment page.
type Result struct {
	SessionID   string
	RedirectURL string
}

func (s *Service) CreateSession(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, domain.AuthRequired("Sign in required")
	}
	if len(req.ProductIDs) == 0 {
		return nil, domain.Validation(domain.ReasonInvalidCart, "Cart is empty")
	}

	products, err := s.resolve(req.ProductIDs)
	if err != nil {
		return nil, err
	}

	var promo *catalog.Promo
	if code := strings.TrimSpace(req.PromoCode); code != "" {
		p, err := s.catalog.Promo(code, s.now())
		switch {
		case errors.Is(err, catalog.ErrPromoExpired):
			return nil, domain.Validation(domain.ReasonPromoExpired, "This promo code has expired")
		case err != nil:
			return nil, domain.Validation(domain.ReasonPromoInvalid, "Invalid promo code")
		}
		promo = &p
	}

	lineItems := make([]payment.LineItem, 0, len(products))
	items := make([]domain.PurchasedItem, 0, len(products))
	for _, p := range products {
		amount := p.UnitAmount()
		if promo != nil {
			amount = promo.Apply(amount)
		}
		lineItems = append(lineItems, payment.LineItem{
			ProductID:  p.ID,
			Name:       p.Name,
			UnitAmount: amount,
			Currency:   s.catalog.Currency(),
		})
		items = append(items, p.Item())
	}

	metadata, err := payment.EncodeItems(items)
	if err != nil {
		return nil, fmt.Errorf("checkout metadata: %w", err)
	}
	metadata[payment.MetaUserID] = req.UserID
	if promo != nil {
		metadata[payment.MetaPromoCode] = promo.Code
	}

	origin := s.RedirectOrigin(req.Origin, req.Referer)
	sess, err := s.provider.CreateSession(ctx, payment.CreateSessionInput{
		UserID:     req.UserID,
		LineItems:  lineItems,
		SuccessURL: origin + "/success.html?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  origin + "/",
		Metadata:   metadata,
	})
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, domain.Configuration("Payments are not configured")
		}
		return nil, domain.Upstream("Could not start checkout, please try again", err)
	}
	if sess.URL == "" {
		return nil, domain.Upstream("Could not start checkout, please try again", errors.New("provider returned no checkout url"))
	}

	s.logger.InfoContext(ctx, "checkout started",
		"user_id", req.UserID, "session_id", sess.ID, "items", len(items), "promo", promo != nil)
	return &Result{SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

// resolve maps every id through the catalog, failing on the first unknown
// one. Repeated ids collapse to a single line.
func (s *Service) resolve(ids []string) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		p, ok := s.catalog.Resolve(id)
		if !ok {
			return nil, domain.Validation(domain.ReasonUnknownProduct, fmt.Sprintf("Unknown product: %q", raw))
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out, nil
}

// RedirectOrigin picks the origin success and cancel URLs point at. Only
// allow-listed origins are honored; anything else gets the site URL.
func (s *Service) RedirectOrigin(origin, referer string) string {
	for _, candidate := range []string{origin, referer} {
		if candidate == "" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(candidate))
		if err != nil || u.Host == "" {
			continue
		}
		normalized := strings.ToLower(u.Scheme + "://" + u.Host)
		if slices.Contains(s.origins, normalized) {
			return normalized
		}
	}
	return s.siteURL
}
