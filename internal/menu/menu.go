// Package menu implements the MenuBinder (spec.md §4.4 prompt
// binding): assemble the four JSON payloads Prompt-B needs — upsell
// rules, upsize rules, add-on rules, and the location's catalog. The
// catalog is built from the Database, with an empty catalog when that
// read fails; the three rule payloads are always the bundled defaults
// and are never read from the Database.
package menu

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/hoptix/pipeline/internal/datastore"
)

//go:embed defaults/upsell_rules.json
var defaultUpsellRules []byte

//go:embed defaults/upsize_rules.json
var defaultUpsizeRules []byte

//go:embed defaults/addon_rules.json
var defaultAddOnRules []byte

// Ref formats the canonical "<item_id>_<size_code>" menu reference
// spec.md §3/§4.4 requires everywhere a menu item is named.
func Ref(itemID string, sizeCode int) string {
	return itemID + "_" + itoa(sizeCode)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Catalog is the location's items+meals payload bound into Prompt-B.
type Catalog struct {
	Items []CatalogEntry `json:"items"`
	Meals []CatalogEntry `json:"meals"`
}

// CatalogEntry is one menu item or meal, with its size/price table
// keyed by the canonical menu reference.
type CatalogEntry struct {
	ItemID   string             `json:"item_id"`
	Name     string             `json:"name"`
	Refs     []string           `json:"refs"`
	Prices   map[string]float64 `json:"prices"`
	Upsell   bool               `json:"upsell_eligible"`
	Upsize   bool               `json:"upsize_eligible"`
	AddOn    bool               `json:"addon_eligible"`
}

// Binder assembles Prompt-B's four payloads for a location.
type Binder struct {
	Database datastore.Database
}

func New(db datastore.Database) *Binder {
	return &Binder{Database: db}
}

// Payloads is everything Prompt-B's template substitution needs.
type Payloads struct {
	UpsellRulesJSON []byte
	UpsizeRulesJSON []byte
	AddOnRulesJSON  []byte
	CatalogJSON     []byte
}

// Bind loads the location's menu from the Database, using an empty
// catalog if that read fails, and pairs it with the bundled default
// rule payloads (spec.md §4.4).
func (b *Binder) Bind(ctx context.Context, locationID string) Payloads {
	payloads := Payloads{
		UpsellRulesJSON: defaultUpsellRules,
		UpsizeRulesJSON: defaultUpsizeRules,
		AddOnRulesJSON:  defaultAddOnRules,
	}

	catalogJSON, err := b.buildCatalogJSON(ctx, locationID)
	if err != nil {
		catalogJSON = defaultCatalogJSON()
	}
	payloads.CatalogJSON = catalogJSON
	return payloads
}

func (b *Binder) buildCatalogJSON(ctx context.Context, locationID string) ([]byte, error) {
	items, meals, _, err := b.Database.GetMenu(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("loading menu for location %s: %w", locationID, err)
	}

	catalog := Catalog{}
	for _, item := range items {
		catalog.Items = append(catalog.Items, entryFromItem(item))
	}
	for _, meal := range meals {
		catalog.Meals = append(catalog.Meals, entryFromMeal(meal))
	}
	return json.Marshal(catalog)
}

// Refs loads the location's valid menu-reference set, for validating a
// Grade's menu references against the catalog (spec.md §3 invariant
// "every menu reference in a Grade ... exists in the Location's
// menu"). A failed or empty load returns a nil/empty set rather than
// an error, so the caller can treat "catalog unavailable" the same
// way Bind's fallback does: skip validation instead of flagging
// everything as unknown.
func (b *Binder) Refs(ctx context.Context, locationID string) map[string]bool {
	items, meals, addOns, err := b.Database.GetMenu(ctx, locationID)
	if err != nil {
		return nil
	}
	return ValidRefs(items, meals, addOns)
}

// ValidRefs is the set of canonical "<item_id>_<size_code>" references
// that exist in a location's catalog — items, meals, and add-ons.
func ValidRefs(items []datastore.MenuItem, meals []datastore.MenuMeal, addOns []datastore.MenuAddOn) map[string]bool {
	refs := make(map[string]bool)
	for _, item := range items {
		for _, size := range decodeSizeCodes(item.SizeIDsJSON) {
			refs[Ref(item.ItemID, size)] = true
		}
	}
	for _, meal := range meals {
		for _, size := range decodeSizeCodes(meal.SizeIDsJSON) {
			refs[Ref(meal.ItemID, size)] = true
		}
	}
	for _, addOn := range addOns {
		refs[Ref(addOn.ItemID, 0)] = true
	}
	return refs
}

func entryFromItem(item datastore.MenuItem) CatalogEntry {
	sizeCodes := decodeSizeCodes(item.SizeIDsJSON)
	prices := decodePrices(item.PricesJSON)
	entry := CatalogEntry{
		ItemID: item.ItemID,
		Name:   item.Name,
		Prices: make(map[string]float64, len(sizeCodes)),
		Upsell: item.UpsellEligible,
		Upsize: item.UpsizeEligible,
		AddOn:  item.AddOnEligible,
	}
	for _, size := range sizeCodes {
		ref := Ref(item.ItemID, size)
		entry.Refs = append(entry.Refs, ref)
		if price, ok := prices[size]; ok {
			entry.Prices[ref] = price
		}
	}
	return entry
}

func entryFromMeal(meal datastore.MenuMeal) CatalogEntry {
	sizeCodes := decodeSizeCodes(meal.SizeIDsJSON)
	prices := decodePrices(meal.PricesJSON)
	entry := CatalogEntry{
		ItemID: meal.ItemID,
		Name:   meal.Name,
		Prices: make(map[string]float64, len(sizeCodes)),
		Upsell: meal.UpsellEligible,
		Upsize: meal.UpsizeEligible,
		AddOn:  meal.AddOnEligible,
	}
	for _, size := range sizeCodes {
		ref := Ref(meal.ItemID, size)
		entry.Refs = append(entry.Refs, ref)
		if price, ok := prices[size]; ok {
			entry.Prices[ref] = price
		}
	}
	return entry
}

// PriceLookup builds a canonical-ref → price map covering items, meals,
// and add-ons, for analytics revenue calculations (spec.md §4.7
// "revenue = Σ price(item) ... using the location's price table").
// AddOns carry no size codes (spec.md §3 AddOn), so they key under
// size code 0 ("none").
func PriceLookup(items []datastore.MenuItem, meals []datastore.MenuMeal, addOns []datastore.MenuAddOn) map[string]float64 {
	prices := map[string]float64{}
	for _, item := range items {
		for size, price := range decodePrices(item.PricesJSON) {
			prices[Ref(item.ItemID, size)] = price
		}
	}
	for _, meal := range meals {
		for size, price := range decodePrices(meal.PricesJSON) {
			prices[Ref(meal.ItemID, size)] = price
		}
	}
	for _, addOn := range addOns {
		prices[Ref(addOn.ItemID, 0)] = addOn.Price
	}
	return prices
}

func decodeSizeCodes(raw string) []int {
	if raw == "" {
		return nil
	}
	var codes []int
	_ = json.Unmarshal([]byte(raw), &codes)
	return codes
}

func decodePrices(raw string) map[int]float64 {
	if raw == "" {
		return nil
	}
	var prices map[int]float64
	_ = json.Unmarshal([]byte(raw), &prices)
	return prices
}

func defaultCatalogJSON() []byte {
	data, _ := json.Marshal(Catalog{})
	return data
}
