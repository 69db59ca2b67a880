// Package analytics implements the AnalyticsAggregator (spec.md §4.7):
// pure functions over a run's Grade rows producing store-level,
// operator-level, item-level, and daily-time-series funnel metrics,
// plus a deterministic recommendation list. Every division guards its
// zero denominator and every rate/revenue is rounded exactly once on
// the way out, so repeated aggregation of identical inputs is
// idempotent (spec.md §8 "Idempotence").
package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/hoptix/pipeline/internal/datastore"
)

const (
	categoryUpsell = "upsell"
	categoryUpsize = "upsize"
	categoryAddOn  = "addon"
)

const topItemsCap = 10

// CategoryTotals is one category's funnel rollup (spec.md §4.7).
type CategoryTotals struct {
	NumOpportunities int     `json:"num_opportunities"`
	NumOffers        int     `json:"num_offers"`
	NumSuccesses     int     `json:"num_successes"`
	OfferRate        float64 `json:"offer_rate"`
	SuccessRate      float64 `json:"success_rate"`
	ConversionRate   float64 `json:"conversion_rate"`
	LargestOfferRate float64 `json:"largest_offer_rate"`
	Revenue          float64 `json:"revenue"`
}

// ItemBreakdown is one menu reference's candidate/offered/converted
// counts and rates (spec.md §4.7 "By item").
type ItemBreakdown struct {
	Ref            string  `json:"ref"`
	CandidateCount int     `json:"candidate_count"`
	OfferedCount   int     `json:"offered_count"`
	ConvertedCount int     `json:"converted_count"`
	OfferRate      float64 `json:"offer_rate"`
	SuccessRate    float64 `json:"success_rate"`
	Revenue        float64 `json:"revenue"`
}

// TopItem is one entry of a top-10 ranking.
type TopItem struct {
	Ref   string  `json:"ref"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// TopItems is the three store-wide rankings spec.md §4.7 requires,
// each capped at 10 and computed across all three categories combined
// (the "most frequent in initial orders" ranking draws on every
// Grade's items_initial list directly, independent of funnel stage).
type TopItems struct {
	MostFrequentInitial []TopItem `json:"most_frequent_initial"`
	HighestSuccessRate  []TopItem `json:"highest_success_rate"`
	MostTotalSuccesses  []TopItem `json:"most_total_successes"`
}

// CategoryReport is one category's totals plus its per-item breakdown.
type CategoryReport struct {
	CategoryTotals
	Items []ItemBreakdown `json:"items"`
}

// DailyPoint is one calendar day's category totals, grouped by each
// transaction's started_at (spec.md §4.7 "Time-series").
type DailyPoint struct {
	Date   string         `json:"date"`
	Upsell CategoryTotals `json:"upsell"`
	Upsize CategoryTotals `json:"upsize"`
	AddOn  CategoryTotals `json:"addon"`
}

// StoreReport is the run-level rollup persisted as RunAnalytics.DataJSON.
type StoreReport struct {
	RunID           string         `json:"run_id"`
	Upsell          CategoryReport `json:"upsell"`
	Upsize          CategoryReport `json:"upsize"`
	AddOn           CategoryReport `json:"addon"`
	TopItems        TopItems       `json:"top_items"`
	Daily           []DailyPoint   `json:"daily"`
	Recommendations []string       `json:"recommendations"`
}

// OperatorReport is one worker's rollup persisted as
// RunAnalyticsWorker.DataJSON.
type OperatorReport struct {
	RunID           string         `json:"run_id"`
	WorkerID        string         `json:"worker_id"`
	DisplayName     string         `json:"display_name"`
	Upsell          CategoryReport `json:"upsell"`
	Upsize          CategoryReport `json:"upsize"`
	AddOn           CategoryReport `json:"addon"`
	Daily           []DailyPoint   `json:"daily"`
	Recommendations []string       `json:"recommendations"`
}

// BuildStoreReport aggregates every Grade in the run into the
// store-level rollup.
func BuildStoreReport(runID string, grades []datastore.Grade, transactions []datastore.Transaction, prices map[string]float64) StoreReport {
	txByID := indexTransactions(transactions)

	upsellFunnels, upsellLargest := collectFunnels(grades, categoryUpsell)
	upsizeFunnels, _ := collectFunnels(grades, categoryUpsize)
	addOnFunnels, _ := collectFunnels(grades, categoryAddOn)

	report := StoreReport{
		RunID:  runID,
		Upsell: buildCategoryReport(upsellFunnels, upsellLargest, prices),
		Upsize: buildCategoryReport(upsizeFunnels, nil, prices),
		AddOn:  buildCategoryReport(addOnFunnels, nil, prices),
	}
	report.TopItems = computeTopItems(grades, map[string][]datastore.CategoryFunnel{
		categoryUpsell: upsellFunnels, categoryUpsize: upsizeFunnels, categoryAddOn: addOnFunnels,
	})
	report.Daily = buildDailySeries(grades, txByID, prices)
	report.Recommendations = recommendations(categoryTotalsByName(report.Upsell, report.Upsize, report.AddOn))
	return report
}

// BuildOperatorReports aggregates every Grade by the worker_id of its
// transaction (spec.md §4.7 "Operator analytics").
func BuildOperatorReports(runID string, grades []datastore.Grade, transactions []datastore.Transaction, workers []datastore.Worker, prices map[string]float64) []OperatorReport {
	txByID := indexTransactions(transactions)
	displayNames := map[string]string{}
	for _, w := range workers {
		displayNames[w.ID] = displayName(w)
	}

	byWorker := map[string][]datastore.Grade{}
	for _, g := range grades {
		tx, ok := txByID[g.TransactionID]
		if !ok || tx.WorkerID == nil {
			continue
		}
		byWorker[*tx.WorkerID] = append(byWorker[*tx.WorkerID], g)
	}

	workerIDs := make([]string, 0, len(byWorker))
	for id := range byWorker {
		workerIDs = append(workerIDs, id)
	}
	sort.Strings(workerIDs)

	reports := make([]OperatorReport, 0, len(workerIDs))
	for _, id := range workerIDs {
		wGrades := byWorker[id]
		upsellFunnels, upsellLargest := collectFunnels(wGrades, categoryUpsell)
		upsizeFunnels, _ := collectFunnels(wGrades, categoryUpsize)
		addOnFunnels, _ := collectFunnels(wGrades, categoryAddOn)

		report := OperatorReport{
			RunID:       runID,
			WorkerID:    id,
			DisplayName: displayNames[id],
			Upsell:      buildCategoryReport(upsellFunnels, upsellLargest, prices),
			Upsize:      buildCategoryReport(upsizeFunnels, nil, prices),
			AddOn:       buildCategoryReport(addOnFunnels, nil, prices),
		}
		report.Daily = buildDailySeries(wGrades, txByID, prices)
		report.Recommendations = recommendations(categoryTotalsByName(report.Upsell, report.Upsize, report.AddOn))
		reports = append(reports, report)
	}
	return reports
}

// PercentChange implements spec.md §4.7's percent-change rule: 0→0 is
// 0, 0→positive is 100, otherwise the rounded percent delta.
func PercentChange(previous, current float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return round1((current - previous) / previous * 100)
}

func buildCategoryReport(funnels []datastore.CategoryFunnel, largestOffers []int, prices map[string]float64) CategoryReport {
	return CategoryReport{
		CategoryTotals: computeTotals(funnels, largestOffers, prices),
		Items:          computeItemBreakdown(funnels, prices),
	}
}

func computeTotals(funnels []datastore.CategoryFunnel, largestOffers []int, prices map[string]float64) CategoryTotals {
	var opportunities, offers, successes, largest int
	var revenue float64
	for i, f := range funnels {
		opportunities += f.NumOpportunities
		offers += f.NumOffers
		successes += f.NumSuccesses
		if i < len(largestOffers) {
			largest += largestOffers[i]
		}
		for _, ref := range f.SuccessItems {
			revenue += prices[ref]
		}
	}
	return CategoryTotals{
		NumOpportunities: opportunities,
		NumOffers:        offers,
		NumSuccesses:     successes,
		OfferRate:        percent(offers, opportunities),
		SuccessRate:      percent(successes, offers),
		ConversionRate:   percent(successes, opportunities),
		LargestOfferRate: percent(largest, offers),
		Revenue:          round2(revenue),
	}
}

type itemCounts struct {
	candidate, offered, converted int
	revenue                       float64
}

func computeItemBreakdown(funnels []datastore.CategoryFunnel, prices map[string]float64) []ItemBreakdown {
	acc := map[string]*itemCounts{}
	var order []string
	touch := func(ref string) *itemCounts {
		c, ok := acc[ref]
		if !ok {
			c = &itemCounts{}
			acc[ref] = c
			order = append(order, ref)
		}
		return c
	}
	for _, f := range funnels {
		for _, ref := range f.CandidateItems {
			touch(ref).candidate++
		}
		for _, ref := range f.OfferedItems {
			touch(ref).offered++
		}
		for _, ref := range f.SuccessItems {
			c := touch(ref)
			c.converted++
			c.revenue += prices[ref]
		}
	}
	sort.Strings(order)

	out := make([]ItemBreakdown, 0, len(order))
	for _, ref := range order {
		c := acc[ref]
		out = append(out, ItemBreakdown{
			Ref:            ref,
			CandidateCount: c.candidate,
			OfferedCount:   c.offered,
			ConvertedCount: c.converted,
			OfferRate:      percent(c.offered, c.candidate),
			SuccessRate:    percent(c.converted, c.offered),
			Revenue:        round2(c.revenue),
		})
	}
	return out
}

func computeTopItems(grades []datastore.Grade, funnelsByCategory map[string][]datastore.CategoryFunnel) TopItems {
	freq := map[string]int{}
	for _, g := range grades {
		for _, ref := range decodeMenuRefList(g.ItemsInitialJSON) {
			freq[ref]++
		}
	}

	var combined []datastore.CategoryFunnel
	for _, fs := range funnelsByCategory {
		combined = append(combined, fs...)
	}
	items := computeItemBreakdown(combined, nil)

	bySuccessRate := filterOffered(append([]ItemBreakdown(nil), items...))
	sort.Slice(bySuccessRate, func(i, j int) bool {
		if bySuccessRate[i].SuccessRate != bySuccessRate[j].SuccessRate {
			return bySuccessRate[i].SuccessRate > bySuccessRate[j].SuccessRate
		}
		return bySuccessRate[i].Ref < bySuccessRate[j].Ref
	})

	byTotalSuccesses := append([]ItemBreakdown(nil), items...)
	sort.Slice(byTotalSuccesses, func(i, j int) bool {
		if byTotalSuccesses[i].ConvertedCount != byTotalSuccesses[j].ConvertedCount {
			return byTotalSuccesses[i].ConvertedCount > byTotalSuccesses[j].ConvertedCount
		}
		return byTotalSuccesses[i].Ref < byTotalSuccesses[j].Ref
	})

	return TopItems{
		MostFrequentInitial: topByFrequency(freq, len(grades)),
		HighestSuccessRate:  toTopItems(capItems(bySuccessRate)),
		MostTotalSuccesses:  toTopItems(capItems(byTotalSuccesses)),
	}
}

func filterOffered(items []ItemBreakdown) []ItemBreakdown {
	out := items[:0:0]
	for _, it := range items {
		if it.OfferedCount > 0 {
			out = append(out, it)
		}
	}
	return out
}

func capItems(items []ItemBreakdown) []ItemBreakdown {
	if len(items) > topItemsCap {
		return items[:topItemsCap]
	}
	return items
}

func toTopItems(items []ItemBreakdown) []TopItem {
	out := make([]TopItem, 0, len(items))
	for _, it := range items {
		out = append(out, TopItem{Ref: it.Ref, Count: it.ConvertedCount, Rate: it.SuccessRate})
	}
	return out
}

func topByFrequency(freq map[string]int, base int) []TopItem {
	refs := make([]string, 0, len(freq))
	for r := range freq {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if freq[refs[i]] != freq[refs[j]] {
			return freq[refs[i]] > freq[refs[j]]
		}
		return refs[i] < refs[j]
	})
	if len(refs) > topItemsCap {
		refs = refs[:topItemsCap]
	}
	out := make([]TopItem, 0, len(refs))
	for _, r := range refs {
		out = append(out, TopItem{Ref: r, Count: freq[r], Rate: percent(freq[r], base)})
	}
	return out
}

func buildDailySeries(grades []datastore.Grade, txByID map[string]datastore.Transaction, prices map[string]float64) []DailyPoint {
	byDay := map[string][]datastore.Grade{}
	for _, g := range grades {
		tx, ok := txByID[g.TransactionID]
		if !ok {
			continue
		}
		day := tx.StartedAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], g)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]DailyPoint, 0, len(days))
	for _, d := range days {
		dayGrades := byDay[d]
		upsellFunnels, upsellLargest := collectFunnels(dayGrades, categoryUpsell)
		upsizeFunnels, _ := collectFunnels(dayGrades, categoryUpsize)
		addOnFunnels, _ := collectFunnels(dayGrades, categoryAddOn)
		out = append(out, DailyPoint{
			Date:   d,
			Upsell: computeTotals(upsellFunnels, upsellLargest, prices),
			Upsize: computeTotals(upsizeFunnels, nil, prices),
			AddOn:  computeTotals(addOnFunnels, nil, prices),
		})
	}
	return out
}

// collectFunnels decodes one category's funnel off each Grade. largest
// is only populated for upsell, the sole category carrying a
// num_largest_offers field on Grade (spec.md §4.4 key 10).
func collectFunnels(grades []datastore.Grade, category string) (funnels []datastore.CategoryFunnel, largest []int) {
	for _, g := range grades {
		var raw string
		switch category {
		case categoryUpsell:
			raw = g.UpsellJSON
		case categoryUpsize:
			raw = g.UpsizeJSON
		case categoryAddOn:
			raw = g.AddOnJSON
		}
		var f datastore.CategoryFunnel
		if raw != "" {
			_ = json.Unmarshal([]byte(raw), &f)
		}
		funnels = append(funnels, f)
		if category == categoryUpsell {
			largest = append(largest, g.NumLargestOffers)
		}
	}
	return funnels, largest
}

func decodeMenuRefList(raw string) datastore.MenuRefList {
	if raw == "" {
		return nil
	}
	var list datastore.MenuRefList
	_ = json.Unmarshal([]byte(raw), &list)
	return list
}

func indexTransactions(transactions []datastore.Transaction) map[string]datastore.Transaction {
	out := make(map[string]datastore.Transaction, len(transactions))
	for _, t := range transactions {
		out[t.ID] = t
	}
	return out
}

func displayName(w datastore.Worker) string {
	if w.DisplayName != "" {
		return w.DisplayName
	}
	return w.LegalName
}

func categoryTotalsByName(upsell, upsize, addOn CategoryReport) map[string]CategoryTotals {
	return map[string]CategoryTotals{
		categoryUpsell: upsell.CategoryTotals,
		categoryUpsize: upsize.CategoryTotals,
		categoryAddOn:  addOn.CategoryTotals,
	}
}

// recommendations applies a fixed set of threshold rules to a run's
// per-category totals, producing short coaching strings (spec.md §4.7
// "recommendations"). The two rules split on a 50% offer rate, so at
// most one applies to a category.
func recommendations(totals map[string]CategoryTotals) []string {
	var out []string
	for _, category := range []string{categoryUpsell, categoryUpsize, categoryAddOn} {
		t, ok := totals[category]
		if !ok || t.NumOpportunities == 0 {
			continue
		}
		if t.OfferRate < 50 {
			out = append(out, fmt.Sprintf("%s: offer rate is %.1f%% — offer on more eligible orders", category, t.OfferRate))
		}
		if t.OfferRate >= 50 && t.ConversionRate < 30 {
			out = append(out, fmt.Sprintf("%s: conversion rate is %.1f%% despite offering often — review the pitch", category, t.ConversionRate))
		}
	}
	return out
}

func percent(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return round1(float64(numerator) / float64(denominator) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
