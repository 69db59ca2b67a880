package menu

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefFormatsCanonicalForm(t *testing.T) {
	assert.Equal(t, "burger_2", Ref("burger", 2))
	assert.Equal(t, "fries_0", Ref("fries", 0))
}

func TestBindBuildsCatalogFromDatabase(t *testing.T) {
	store := datastore.NewMemoryStore()
	store.Items["item-1"] = &datastore.MenuItem{
		ID: "item-1", LocationID: "loc-1", ItemID: "burger", Name: "Burger",
		SizeIDsJSON: "[1,2]", PricesJSON: `{"1":3.5,"2":4.5}`, UpsellEligible: true,
	}

	b := New(store)
	payloads := b.Bind(context.Background(), "loc-1")

	var catalog Catalog
	require.NoError(t, json.Unmarshal(payloads.CatalogJSON, &catalog))
	require.Len(t, catalog.Items, 1)
	assert.Equal(t, "burger", catalog.Items[0].ItemID)
	assert.Contains(t, catalog.Items[0].Refs, "burger_1")
	assert.Contains(t, catalog.Items[0].Refs, "burger_2")
	assert.Equal(t, 4.5, catalog.Items[0].Prices["burger_2"])

	assert.NotEmpty(t, payloads.UpsellRulesJSON)
	assert.NotEmpty(t, payloads.UpsizeRulesJSON)
	assert.NotEmpty(t, payloads.AddOnRulesJSON)
}

func TestBindFallsBackToDefaultCatalogOnMissingLocation(t *testing.T) {
	store := datastore.NewMemoryStore()
	b := New(store)
	payloads := b.Bind(context.Background(), "missing-location")

	var catalog Catalog
	require.NoError(t, json.Unmarshal(payloads.CatalogJSON, &catalog))
	assert.Empty(t, catalog.Items)
}

func TestValidRefsCoversItemsMealsAndAddOns(t *testing.T) {
	items := []datastore.MenuItem{{ItemID: "burger", SizeIDsJSON: "[1,2]"}}
	meals := []datastore.MenuMeal{{ItemID: "combo", SizeIDsJSON: "[1]"}}
	addOns := []datastore.MenuAddOn{{ItemID: "sauce"}}

	refs := ValidRefs(items, meals, addOns)

	assert.True(t, refs["burger_1"])
	assert.True(t, refs["burger_2"])
	assert.True(t, refs["combo_1"])
	assert.True(t, refs["sauce_0"])
	assert.False(t, refs["ghost_0"])
}

func TestRefsIsEmptyForLocationWithNoMenu(t *testing.T) {
	store := datastore.NewMemoryStore()
	b := New(store)

	refs := b.Refs(context.Background(), "missing-location")
	assert.Empty(t, refs)
}
