// Package payment talks to the hosted checkout provider.
package payment

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotConfigured means the provider credentials are missing.
	ErrNotConfigured = errors.New("payment provider not configured")
	// ErrSessionNotFound means the provider has no session with that id.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrInvalidSignature means a webhook payload failed verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnavailable means the provider is failing and calls are short-circuited.
	ErrUnavailable = errors.New("payment provider unavailable")
)

// Event types the recorder reacts to.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

// LineItem is one charged product at its final unit amount.
type LineItem struct {
	ProductID  string
	Name       string
	UnitAmount int64
	Currency   string
}

// CreateSessionInput describes a hosted checkout to open.
type CreateSessionInput struct {
	UserID     string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// SessionLineItem is a line item read back from the provider.
type SessionLineItem struct {
	ProductID   string
	Name        string
	AmountTotal int64
}

// Session is the provider's view of a checkout session.
type Session struct {
	ID                string
	URL               string
	PaymentStatus     string
	Paid              bool
	ClientReferenceID string
	Metadata          map[string]string
	// LineItems is only populated when requested.
	LineItems []SessionLineItem
}

// UserID is the store user the session was opened for: the user_id
// metadata, else the client reference id set at creation.
func (s *Session) UserID() string {
	if id := strings.TrimSpace(s.Metadata[MetaUserID]); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

// Event is a verified webhook notification. Session is nil for events that
// do not carry a checkout session.
type Event struct {
	ID      string
	Type    string
	Session *Session
}

// Provider is the hosted checkout collaborator.
type Provider interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error)
	GetSession(ctx context.Context, id string, withLineItems bool) (*Session, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
