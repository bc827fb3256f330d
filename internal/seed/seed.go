package seed

import (
	"context"
	"fmt"
	"time"

	"cntrlx-store/internal/catalog"
	"cntrlx-store/internal/domain"
	purchaserepo "cntrlx-store/internal/repository/purchase"
	"github.com/shopspring/decimal"
)

type purchaseWriter interface {
	Insert(ctx context.Context, in purchaserepo.CreateInput) (*domain.Purchase, bool, error)
}

type purchaseSeed struct {
	SessionID string
	Age       time.Duration
	Items     []domain.PurchasedItem
}

// Apply inserts demo purchases for userID for manual testing. It is
// idempotent through the store's insert-or-ignore write; the returned count
// only includes rows created by this call.
func Apply(ctx context.Context, repo purchaseWriter, c *catalog.Catalog, userID string, now time.Time) (int, error) {
	item := func(id string) (domain.PurchasedItem, error) {
		p, ok := c.Resolve(id)
		if !ok {
			return domain.PurchasedItem{}, fmt.Errorf("unknown product %q", id)
		}
		return p.Item(), nil
	}
	apex, err := item("apex")
	if err != nil {
		return 0, err
	}
	bundle, err := item("all-scripts")
	if err != nil {
		return 0, err
	}
	vision, err := item("vision-x")
	if err != nil {
		return 0, err
	}

	seeds := []purchaseSeed{
		{
			SessionID: "cs_seed_current",
			Age:       time.Hour,
			Items:     []domain.PurchasedItem{apex, bundle},
		},
		{
			// Written before product ids were stored; flags come from names.
			SessionID: "cs_seed_legacy",
			Age:       2 * time.Hour,
			Items: []domain.PurchasedItem{
				{Name: "CONTROL+X Zen Script", Price: decimal.NewFromInt(75)},
			},
		},
		{
			SessionID: "cs_seed_expired",
			Age:       72 * time.Hour,
			Items:     []domain.PurchasedItem{vision},
		},
	}

	created := 0
	for _, s := range seeds {
		_, inserted, err := repo.Insert(ctx, purchaserepo.CreateInput{
			UserID:    userID,
			SessionID: s.SessionID,
			Items:     s.Items,
			CreatedAt: now.Add(-s.Age),
		})
		if err != nil {
			return created, fmt.Errorf("insert purchase %s: %w", s.SessionID, err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}
