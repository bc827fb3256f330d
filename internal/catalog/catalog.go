// Package catalog holds the static product list and promo codes.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cntrlx-store/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultDocument string

var (
	// ErrPromoInvalid is returned for codes that are not on the allow-list.
	ErrPromoInvalid = errors.New("promo code invalid")
	// ErrPromoExpired is returned for known codes past their cutoff.
	ErrPromoExpired = errors.New("promo code expired")
)

// Promo is a percentage discount applied to every line of a cart.
type Promo struct {
	Code       string
	PercentOff int64
	ExpiresAt  time.Time
}

// Apply returns the discounted unit amount in cents.
func (p Promo) Apply(cents int64) int64 {
	keep := decimal.NewFromInt(100 - p.PercentOff)
	return decimal.NewFromInt(cents).Mul(keep).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Catalog resolves product ids and promo codes. It is immutable after Parse.
type Catalog struct {
	currency string
	order    []string
	products map[string]domain.Product
	promos   map[string]Promo
}

type document struct {
	Currency string `yaml:"currency"`
	Products []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Price string `yaml:"price"`
	} `yaml:"products"`
	Promos []struct {
		Code       string    `yaml:"code"`
		PercentOff int64     `yaml:"percent_off"`
		ExpiresAt  time.Time `yaml:"expires_at"`
	} `yaml:"promos"`
}

// Parse reads and validates a catalog document.
func Parse(r io.Reader) (*Catalog, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if doc.Currency == "" {
		doc.Currency = "usd"
	}

	c := &Catalog{
		currency: strings.ToLower(doc.Currency),
		products: make(map[string]domain.Product, len(doc.Products)),
		promos:   make(map[string]Promo, len(doc.Promos)),
	}
	for _, p := range doc.Products {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("product %q: id and name required", p.ID)
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("product %q: duplicate id", p.ID)
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %q: price: %w", p.ID, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("product %q: price must be positive", p.ID)
		}
		c.products[p.ID] = domain.Product{ID: p.ID, Name: p.Name, Price: price}
		c.order = append(c.order, p.ID)
	}
	for _, p := range doc.Promos {
		if p.Code == "" {
			return nil, errors.New("promo: code required")
		}
		if p.PercentOff < 1 || p.PercentOff > 100 {
			return nil, fmt.Errorf("promo %q: percent_off must be within 1..100", p.Code)
		}
		c.promos[p.Code] = Promo{Code: p.Code, PercentOff: p.PercentOff, ExpiresAt: p.ExpiresAt.UTC()}
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded storefront catalog. The document ships with
// the binary, so a parse failure is a build defect and panics.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(strings.NewReader(defaultDocument))
		if err != nil {
			panic(fmt.Sprintf("embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Currency is the ISO code charged for every product.
func (c *Catalog) Currency() string { return c.currency }

// Resolve looks up a product by id.
func (c *Catalog) Resolve(id string) (domain.Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// Products lists the catalog in document order.
func (c *Catalog) Products() []domain.Product {
	out := make([]domain.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// Promo validates a code at the given instant. A zero cutoff never expires.
func (c *Catalog) Promo(code string, now time.Time) (Promo, error) {
	p, ok := c.promos[strings.TrimSpace(code)]
	if !ok {
		return Promo{}, ErrPromoInvalid
	}
	if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
		return Promo{}, ErrPromoExpired
	}
	return p, nil
}
