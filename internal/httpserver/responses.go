package httpserver

import (
	"strings"
	"time"

	"cntrlx-store/internal/domain"
	purchasesvc "cntrlx-store/internal/service/purchase"
	"github.com/gin-gonic/gin"
)

// checkoutRequest accepts the productIds list or the storefront cart's
// items list.
type checkoutRequest struct {
	ProductIDs []string   `json:"productIds"`
	Items      []cartItem `json:"items"`
	PromoCode  string     `json:"promoCode"`
}

type cartItem struct {
	ProductID string `json:"productId"`
	ID        string `json:"id"`
}

func (r checkoutRequest) productIDs() []string {
	if len(r.ProductIDs) > 0 {
		return r.ProductIDs
	}
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		id := it.ProductID
		if strings.TrimSpace(id) == "" {
			id = it.ID
		}
		ids = append(ids, id)
	}
	return ids
}

type checkoutResponse struct {
	RedirectURL string `json:"redirectUrl"`
	SessionID   string `json:"sessionId"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

type recoverRequest struct {
	SessionID string `json:"session_id"`
}

type recoverResponse struct {
	Recovered bool   `json:"recovered"`
	Reason    string `json:"reason,omitempty"`
	ItemCount *int   `json:"itemCount,omitempty"`
}

type debugResponse struct {
	UserID        string   `json:"userId"`
	PurchaseCount int      `json:"purchaseCount"`
	SessionFound  *bool    `json:"sessionFound,omitempty"`
	Sessions      []string `json:"sessions"`
}

type configResponse struct {
	IdentityURL     string `json:"identityUrl"`
	IdentityAnonKey string `json:"identityAnonKey"`
	SiteURL         string `json:"siteUrl"`
}

// purchaseJSON flattens a purchase view with its entitlement flags merged
// into the top level.
func purchaseJSON(v purchasesvc.View) gin.H {
	out := gin.H{
		"session_id": v.SessionID,
		"items":      itemsOrEmpty(v.Items),
		"createdAt":  v.CreatedAt.UTC().Format(time.RFC3339),
		"expiresAt":  v.ExpiresAt.UTC().Format(time.RFC3339),
		"isExpired":  v.Expired,
	}
	for k, flag := range v.Entitlements.Map() {
		out[k] = flag
	}
	return out
}

func itemsOrEmpty(items []domain.PurchasedItem) []domain.PurchasedItem {
	if items == nil {
		return []domain.PurchasedItem{}
	}
	return items
}
