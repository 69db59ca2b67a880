package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func funnelJSON(t *testing.T, f datastore.CategoryFunnel) string {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return string(data)
}

func makeGrade(t *testing.T, txID string, upsell, upsize, addOn datastore.CategoryFunnel) datastore.Grade {
	return datastore.Grade{
		TransactionID: txID,
		UpsellJSON:    funnelJSON(t, upsell),
		UpsizeJSON:    funnelJSON(t, upsize),
		AddOnJSON:     funnelJSON(t, addOn),
	}
}

func TestPercentChangeZeroCurrentAndPositiveBranches(t *testing.T) {
	assert.Equal(t, 0.0, PercentChange(0, 0))
	assert.Equal(t, 100.0, PercentChange(0, 5))
	assert.Equal(t, 50.0, PercentChange(10, 15))
	assert.Equal(t, -50.0, PercentChange(10, 5))
}

func TestBuildStoreReportAggregatesAcrossMultipleGrades(t *testing.T) {
	grades := []datastore.Grade{
		makeGrade(t, "tx-1",
			datastore.CategoryFunnel{NumOpportunities: 2, NumOffers: 1, NumSuccesses: 1, OfferedItems: []string{"burger_1"}, SuccessItems: []string{"burger_1"}},
			datastore.CategoryFunnel{},
			datastore.CategoryFunnel{},
		),
		makeGrade(t, "tx-2",
			datastore.CategoryFunnel{NumOpportunities: 1, NumOffers: 1, NumSuccesses: 0, OfferedItems: []string{"burger_1"}},
			datastore.CategoryFunnel{},
			datastore.CategoryFunnel{},
		),
	}
	transactions := []datastore.Transaction{
		{ID: "tx-1", StartedAt: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)},
		{ID: "tx-2", StartedAt: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)},
	}
	prices := map[string]float64{"burger_1": 5.50}

	report := BuildStoreReport("run-1", grades, transactions, prices)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 3, report.Upsell.NumOpportunities)
	assert.Equal(t, 2, report.Upsell.NumOffers)
	assert.Equal(t, 1, report.Upsell.NumSuccesses)
	assert.InDelta(t, 66.7, report.Upsell.OfferRate, 0.1)
	assert.InDelta(t, 5.50, report.Upsell.Revenue, 0.001)

	require.Len(t, report.Daily, 2)
	assert.Equal(t, "2026-07-30", report.Daily[0].Date)
	assert.Equal(t, "2026-07-31", report.Daily[1].Date)
}

func TestBuildOperatorReportsGroupsByWorker(t *testing.T) {
	workerA, workerB := "worker-a", "worker-b"
	grades := []datastore.Grade{
		makeGrade(t, "tx-1", datastore.CategoryFunnel{NumOpportunities: 1, NumOffers: 1, NumSuccesses: 1}, datastore.CategoryFunnel{}, datastore.CategoryFunnel{}),
		makeGrade(t, "tx-2", datastore.CategoryFunnel{NumOpportunities: 1, NumOffers: 0, NumSuccesses: 0}, datastore.CategoryFunnel{}, datastore.CategoryFunnel{}),
		makeGrade(t, "tx-3", datastore.CategoryFunnel{NumOpportunities: 1, NumOffers: 1, NumSuccesses: 0}, datastore.CategoryFunnel{}, datastore.CategoryFunnel{}),
	}
	transactions := []datastore.Transaction{
		{ID: "tx-1", WorkerID: &workerA, StartedAt: time.Now()},
		{ID: "tx-2", WorkerID: &workerB, StartedAt: time.Now()},
		{ID: "tx-3", StartedAt: time.Now()}, // unassigned: excluded from operator rollups
	}
	workers := []datastore.Worker{
		{ID: workerA, LegalName: "Alice Alpha", DisplayName: "Ali"},
		{ID: workerB, LegalName: "Bob Beta"},
	}

	reports := BuildOperatorReports("run-1", grades, transactions, workers, nil)

	require.Len(t, reports, 2)
	assert.Equal(t, workerA, reports[0].WorkerID)
	assert.Equal(t, "Ali", reports[0].DisplayName)
	assert.Equal(t, 1, reports[0].Upsell.NumSuccesses)

	assert.Equal(t, workerB, reports[1].WorkerID)
	assert.Equal(t, "Bob Beta", reports[1].DisplayName) // falls back to legal name
	assert.Equal(t, 0, reports[1].Upsell.NumSuccesses)
}

func TestRecommendationsFireOnLowOfferAndLowConversionThresholds(t *testing.T) {
	lowOffer := CategoryTotals{NumOpportunities: 10, NumOffers: 2, OfferRate: 20, ConversionRate: 10}
	lowConversion := CategoryTotals{NumOpportunities: 10, NumOffers: 9, OfferRate: 90, ConversionRate: 10}
	healthy := CategoryTotals{NumOpportunities: 10, NumOffers: 9, OfferRate: 90, ConversionRate: 80}
	noOpportunities := CategoryTotals{NumOpportunities: 0}

	recs := recommendations(map[string]CategoryTotals{
		categoryUpsell: lowOffer,
		categoryUpsize: lowConversion,
		categoryAddOn:  noOpportunities,
	})
	require.Len(t, recs, 2)
	assert.Contains(t, recs[0], "upsell")
	assert.Contains(t, recs[0], "offer rate")
	assert.Contains(t, recs[1], "upsize")
	assert.Contains(t, recs[1], "conversion rate")

	assert.Empty(t, recommendations(map[string]CategoryTotals{categoryUpsell: healthy}))
}

func TestAnalyticsSanityOperatorSumMatchesStoreTotals(t *testing.T) {
	workerA, workerB := "worker-a", "worker-b"
	grades := []datastore.Grade{
		makeGrade(t, "tx-1", datastore.CategoryFunnel{NumOpportunities: 2, NumOffers: 1, NumSuccesses: 1}, datastore.CategoryFunnel{}, datastore.CategoryFunnel{}),
		makeGrade(t, "tx-2", datastore.CategoryFunnel{NumOpportunities: 3, NumOffers: 2, NumSuccesses: 1}, datastore.CategoryFunnel{}, datastore.CategoryFunnel{}),
	}
	transactions := []datastore.Transaction{
		{ID: "tx-1", WorkerID: &workerA, StartedAt: time.Now()},
		{ID: "tx-2", WorkerID: &workerB, StartedAt: time.Now()},
	}
	workers := []datastore.Worker{{ID: workerA, LegalName: "Alice"}, {ID: workerB, LegalName: "Bob"}}

	storeReport := BuildStoreReport("run-1", grades, transactions, nil)
	operatorReports := BuildOperatorReports("run-1", grades, transactions, workers, nil)

	var summedOpportunities, summedOffers, summedSuccesses int
	for _, r := range operatorReports {
		summedOpportunities += r.Upsell.NumOpportunities
		summedOffers += r.Upsell.NumOffers
		summedSuccesses += r.Upsell.NumSuccesses
	}

	assert.Equal(t, storeReport.Upsell.NumOpportunities, summedOpportunities)
	assert.Equal(t, storeReport.Upsell.NumOffers, summedOffers)
	assert.Equal(t, storeReport.Upsell.NumSuccesses, summedSuccesses)
}
