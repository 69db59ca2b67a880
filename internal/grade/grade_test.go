package grade

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/extract"
	"github.com/hoptix/pipeline/internal/menu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Reasoner.Retry = conf.RetryPolicy{MaxRetries: 1}
	s.Reasoner.PriceInputPerM = 1.0
	s.Reasoner.PriceOutputPerM = 2.0
	return s
}

func TestGradeParsesNumberedKeysAndDerivesScore(t *testing.T) {
	raw := `{
		"1":"burger_1,fries_0","2":2,
		"3":2,"4":"burger_1","4_base":"burger_1","5":1,"6":"burger_2","7":"burger_2","8_base_sold":"burger_1","9":1,"10":0,
		"11":1,"11_base":"fries_0","12":"fries_1","13":"fries_0","14":1,"14_base":"fries_0","15":0,"16":"0","16_base_sold":"0",
		"18":1,"18_base":"burger_1","19":"dessert_0","20":"burger_1","21":1,"21_base":"burger_1","22":1,"23":"dessert_0","23_base_sold":"burger_1",
		"25":"burger_2,fries_1,dessert_0","26":3,"27":"great job","28":"no issues","custom_field":"forensic"
	}`
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{
		{Text: raw, Usage: capability.ReasonerUsage{InputTokens: 1_000_000, OutputTokens: 500_000}},
	}}
	g := New(testSettings(), reasoner, nil)

	result, err := g.Grade(context.Background(), "tx-1", "transcript text", menu.Payloads{}, extract.TransactionMeta{CompleteOrder: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NumItemsInitial)
	assert.Equal(t, 3, result.NumItemsAfter)
	assert.Equal(t, "great job", result.Feedback)
	assert.True(t, result.CompleteOrder)

	// score = (offers_upsell + offers_upsize) / (opps_upsell + opps_upsize) = (1+1)/(2+1)
	assert.InDelta(t, 2.0/3.0, result.Score, 0.0001)

	assert.InDelta(t, 2.0, result.GPTPrice, 0.001)

	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.DetailsJSON), &details))
	assert.Equal(t, "forensic", details["custom_field"])

	var upsell datastore.CategoryFunnel
	require.NoError(t, json.Unmarshal([]byte(result.UpsellJSON), &upsell))
	assert.Equal(t, 2, upsell.NumOpportunities)
	assert.Equal(t, 1, upsell.NumOffers)
	assert.Equal(t, []string{"burger_2"}, []string(upsell.OfferedItems))
}

func TestGradeRecordsSanityIssueWhenOffersExceedOpportunities(t *testing.T) {
	raw := `{"3":1,"5":3,"6":"a,b,c"}`
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: raw}}}
	g := New(testSettings(), reasoner, nil)

	result, err := g.Grade(context.Background(), "tx-2", "t", menu.Payloads{}, extract.TransactionMeta{}, nil)
	require.NoError(t, err)

	var issues []string
	require.NoError(t, json.Unmarshal([]byte(result.Issues), &issues))
	assert.Contains(t, issues, "upsell: offers exceed opportunities")
}

func TestGradeClampsScoreToOne(t *testing.T) {
	raw := `{"3":3,"5":5,"6":"a,b,c,d,e"}`
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: raw}}}
	g := New(testSettings(), reasoner, nil)

	result, err := g.Grade(context.Background(), "tx-clamp", "t", menu.Payloads{}, extract.TransactionMeta{}, nil)
	require.NoError(t, err)

	// (5+0)/(3+0) = 1.667 uncapped; spec.md §3 requires score in [0,1].
	assert.Equal(t, 1.0, result.Score)
}

func TestGradeRecordsUnknownMenuReferenceAgainstCatalog(t *testing.T) {
	raw := `{"3":1,"4":"burger_1","5":1,"6":"ghost_item_9","7":"ghost_item_9","9":1}`
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: raw}}}
	g := New(testSettings(), reasoner, nil)
	validRefs := map[string]bool{"burger_1": true}

	result, err := g.Grade(context.Background(), "tx-4", "t", menu.Payloads{}, extract.TransactionMeta{}, validRefs)
	require.NoError(t, err)

	var issues []string
	require.NoError(t, json.Unmarshal([]byte(result.Issues), &issues))
	assert.Contains(t, issues, "upsell offered: unknown menu reference ghost_item_9")
	assert.Contains(t, issues, "upsell success: unknown menu reference ghost_item_9")
}

func TestGradeSkipsMenuReferenceCheckWhenCatalogUnavailable(t *testing.T) {
	raw := `{"3":1,"5":1,"6":"ghost_item_9","9":1}`
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: raw}}}
	g := New(testSettings(), reasoner, nil)

	result, err := g.Grade(context.Background(), "tx-5", "t", menu.Payloads{}, extract.TransactionMeta{}, nil)
	require.NoError(t, err)

	var issues []string
	require.NoError(t, json.Unmarshal([]byte(result.Issues), &issues))
	assert.Empty(t, issues)
}

func TestGradeFallsBackToZeroWhenFieldMissing(t *testing.T) {
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: `{}`}}}
	g := New(testSettings(), reasoner, nil)

	result, err := g.Grade(context.Background(), "tx-3", "t", menu.Payloads{}, extract.TransactionMeta{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, 0, result.NumItemsInitial)
}
