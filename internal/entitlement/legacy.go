package entitlement

import (
	"strings"

	"cntrlx-store/internal/domain"
	"github.com/shopspring/decimal"
)

// legacyRule matches purchases recorded without a product id. A rule fires
// when the lower-cased name contains any keyword, or when the price equals
// price and (if set) the name also contains priceKeyword.
//
// Price-only rules collide: several scripts share $20, so a single legacy $20
// item grants all of them. Existing records depend on this, so it stays.
type legacyRule struct {
	flag         Flag
	keywords     []string
	price        decimal.Decimal
	priceKeyword string
}

var legacyRules = []legacyRule{
	{flag: ControlX, keywords: []string{"control+x"}, price: decimal.NewFromInt(75), priceKeyword: "control"},
	{flag: TwoK, keywords: []string{"2k"}, price: decimal.NewFromInt(35)},
	{flag: COD, keywords: []string{"cod zen"}, price: decimal.NewFromInt(20), priceKeyword: "cod"},
	{flag: Apex, keywords: []string{"apex"}, price: decimal.NewFromInt(15)},
	{flag: Arc, keywords: []string{"arc zen"}, price: decimal.NewFromInt(15), priceKeyword: "arc"},
	{flag: Fortnite, keywords: []string{"fortnite"}, price: decimal.NewFromInt(20)},
	{flag: Siege, keywords: []string{"siege"}, price: decimal.NewFromInt(20)},
	{flag: Rust, keywords: []string{"rust"}, price: decimal.NewFromInt(20)},
	{flag: AllBundle, keywords: []string{"all zen scripts", "all scripts"}, price: decimal.NewFromInt(100)},
	{flag: VisionX, keywords: []string{"vision-x", "vision x"}, price: decimal.NewFromInt(500)},
}

func matchLegacy(item domain.PurchasedItem) []Flag {
	name := strings.ToLower(item.Name)
	var out []Flag
	for _, r := range legacyRules {
		if r.matches(name, item.Price) {
			out = append(out, r.flag)
		}
	}
	return out
}

func (r legacyRule) matches(name string, price decimal.Decimal) bool {
	for _, kw := range r.keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	if !price.Equal(r.price) {
		return false
	}
	return r.priceKeyword == "" || strings.Contains(name, r.priceKeyword)
}
