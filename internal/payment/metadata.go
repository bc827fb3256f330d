package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cntrlx-store/internal/domain"
)

// Metadata keys written on every checkout session.
const (
	MetaUserID    = "user_id"
	MetaItems     = "items"
	MetaPromoCode = "promo_code"
)

// maxMetadataValue is the provider's per-value character limit.
const maxMetadataValue = 500

// EncodeItems serializes items into one or more metadata values. Payloads
// over the value limit are split across items, items_1, items_2 and so on.
func EncodeItems(items []domain.PurchasedItem) (map[string]string, error) {
	if items == nil {
		items = []domain.PurchasedItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	runes := []rune(string(raw))
	out := make(map[string]string)
	for i := 0; len(runes) > 0; i++ {
		n := min(len(runes), maxMetadataValue)
		out[chunkKey(i)] = string(runes[:n])
		runes = runes[n:]
	}
	return out, nil
}

// DecodeItems reassembles items written by EncodeItems. It returns nil
// without error when the metadata carries no items.
func DecodeItems(md map[string]string) ([]domain.PurchasedItem, error) {
	first, ok := md[MetaItems]
	if !ok || strings.TrimSpace(first) == "" {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(first)
	for i := 1; ; i++ {
		part, ok := md[chunkKey(i)]
		if !ok {
			break
		}
		b.WriteString(part)
	}
	var items []domain.PurchasedItem
	if err := json.Unmarshal([]byte(b.String()), &items); err != nil {
		return nil, fmt.Errorf("decode items metadata: %w", err)
	}
	return items, nil
}

func chunkKey(i int) string {
	if i == 0 {
		return MetaItems
	}
	return MetaItems + "_" + strconv.Itoa(i)
}
