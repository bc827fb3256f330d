package purchase

import (
	"context"
	"time"

	"cntrlx-store/internal/domain"
)

// CreateInput is a purchase to record. A zero CreatedAt lets the database
// stamp the row.
type CreateInput struct {
	UserID    string
	SessionID string
	Items     []domain.PurchasedItem
	CreatedAt time.Time
}

// Repository persists purchases. Rows are append-only; (user, session) is unique.
type Repository interface {
	// Insert writes the purchase unless a row for (user, session) exists.
	// inserted is false when the write was a no-op.
	Insert(ctx context.Context, in CreateInput) (p *domain.Purchase, inserted bool, err error)
	Get(ctx context.Context, userID, sessionID string) (*domain.Purchase, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Purchase, error)
}
