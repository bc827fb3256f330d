package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PurchasedItem is one line of a recorded purchase. ProductID is empty on
// records written before product ids were embedded in checkout metadata.
type PurchasedItem struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
}

type purchasedItemJSON struct {
	ProductID string          `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	Price     json.RawMessage `json:"price,omitempty"`
}

// MarshalJSON writes price as a JSON number, the shape stored rows and
// checkout metadata have always used.
func (i PurchasedItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(purchasedItemJSON{
		ProductID: i.ProductID,
		Name:      i.Name,
		Price:     json.RawMessage(i.Price.String()),
	})
}

// UnmarshalJSON accepts numeric or quoted prices. An unparseable price
// decodes as zero rather than failing the whole purchase.
func (i *PurchasedItem) UnmarshalJSON(data []byte) error {
	var raw purchasedItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.ProductID = raw.ProductID
	i.Name = raw.Name
	i.Price = decimal.Zero
	if len(raw.Price) > 0 {
		if p, err := decimal.NewFromString(strings.Trim(string(raw.Price), `"`)); err == nil {
			i.Price = p
		}
	}
	return nil
}

// Purchase is the durable record of a paid checkout session. It is keyed by
// (UserID, SessionID) and never mutated once written.
type Purchase struct {
	ID        string
	UserID    string
	SessionID string
	Items     []PurchasedItem
	CreatedAt time.Time
}

// ExpiresAt reports the end of the download window.
func (p Purchase) ExpiresAt(window time.Duration) time.Time {
	return p.CreatedAt.Add(window)
}

// Expired reports whether now is past the download window. The window end
// itself is still inside it.
func (p Purchase) Expired(now time.Time, window time.Duration) bool {
	return now.After(p.ExpiresAt(window))
}
