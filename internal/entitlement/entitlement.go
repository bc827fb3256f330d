// Package entitlement derives download rights from purchased items.
//
// Flags are never stored. They are recomputed from a purchase's items on
// every read so rule changes apply to old purchases too.
package entitlement

import (
	"strings"

	"cntrlx-store/internal/domain"
)

// Flag names an entitlement. The string value is the key clients see.
type Flag string

const (
	ControlX  Flag = "hasControlX"
	TwoK      Flag = "has2K"
	COD       Flag = "hasCOD"
	Apex      Flag = "hasApex"
	Arc       Flag = "hasArc"
	Fortnite  Flag = "hasFortnite"
	Siege     Flag = "hasSiege"
	Rust      Flag = "hasRust"
	AllBundle Flag = "hasAllBundle"
	VisionX   Flag = "hasVisionX"
)

// Flags lists every flag in a stable order.
var Flags = []Flag{ControlX, TwoK, COD, Apex, Arc, Fortnite, Siege, Rust, AllBundle, VisionX}

var productFlags = map[string][]Flag{
	"control-x":   {ControlX},
	"2k":          {TwoK},
	"cod":         {COD},
	"apex":        {Apex},
	"arc":         {Arc},
	"fortnite":    {Fortnite},
	"siege":       {Siege},
	"rust":        {Rust},
	"all-scripts": {AllBundle},
	"vision-x":    {VisionX},
}

// Set maps every flag to whether it is granted.
type Set map[Flag]bool

// Has reports whether f is granted.
func (s Set) Has(f Flag) bool { return s[f] }

// Map returns the set keyed by plain strings, for merging into responses.
func (s Set) Map() map[string]bool {
	out := make(map[string]bool, len(s))
	for f, v := range s {
		out[string(f)] = v
	}
	return out
}

// ForProduct returns the flags a product id grants, if it is known.
func ForProduct(productID string) ([]Flag, bool) {
	flags, ok := productFlags[strings.ToLower(strings.TrimSpace(productID))]
	return flags, ok
}

// Derive computes the entitlement set for items. Items carrying a known
// product id are matched exactly; everything else goes through the legacy
// name and price rules. Nil or empty input yields all flags false.
func Derive(items []domain.PurchasedItem) Set {
	set := make(Set, len(Flags))
	for _, f := range Flags {
		set[f] = false
	}
	for _, item := range items {
		if flags, ok := ForProduct(item.ProductID); ok {
			for _, f := range flags {
				set[f] = true
			}
			continue
		}
		for _, f := range matchLegacy(item) {
			set[f] = true
		}
	}
	return set
}
