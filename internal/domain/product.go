package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Product is an entry of the static catalog. Price is authoritative for every
// amount charged.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// UnitAmount returns the price in cents, rounded half away from zero.
func (p Product) UnitAmount() int64 {
	return p.Price.Mul(hundred).Round(0).IntPart()
}

// Item snapshots the product as a purchased line.
func (p Product) Item() PurchasedItem {
	return PurchasedItem{ProductID: p.ID, Name: p.Name, Price: p.Price}
}

// CentsToPrice converts a provider amount in cents back to a currency amount.
func CentsToPrice(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(hundred)
}
