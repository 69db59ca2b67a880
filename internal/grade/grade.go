// Package grade implements the Grader (spec.md §4.4, Prompt-B):
// produce the Grade row for one Transaction by calling the Reasoner
// with the menu-bound prompt and parsing its numbered-key response.
package grade

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/extract"
	"github.com/hoptix/pipeline/internal/menu"
	"github.com/hoptix/pipeline/internal/retry"
)

// Grader is the grade.Grader capability.
type Grader struct {
	Settings *conf.Settings
	Reasoner capability.Reasoner
	PromptB  func(transcript string, payloads menu.Payloads) string
}

func New(settings *conf.Settings, reasoner capability.Reasoner, promptB func(string, menu.Payloads) string) *Grader {
	if promptB == nil {
		promptB = defaultPromptB
	}
	return &Grader{Settings: settings, Reasoner: reasoner, PromptB: promptB}
}

func defaultPromptB(transcript string, payloads menu.Payloads) string {
	return fmt.Sprintf(
		"Grade the following drive-thru transaction against the supplied menu and rules.\n"+
			"Upsell rules: %s\nUpsize rules: %s\nAdd-on rules: %s\nCatalog: %s\n\nTranscript:\n%s",
		payloads.UpsellRulesJSON, payloads.UpsizeRulesJSON, payloads.AddOnRulesJSON, payloads.CatalogJSON, transcript,
	)
}

// Grade calls the Reasoner and builds the persisted Grade row for
// transactionID (spec.md §4.4). draftMeta carries the Prompt-A fields
// extraction already answered (complete_order, mobile_order,
// coupon_used, asked_more_time, out_of_stock_items); Prompt-B never
// re-asks these, so they are merged onto the row as-is rather than
// parsed from the Reasoner's Prompt-B response. validRefs is the
// location's catalog reference set (menu.Binder.Refs); nil skips the
// unknown-menu-reference check rather than flagging everything.
func (g *Grader) Grade(ctx context.Context, transactionID, transcript string, payloads menu.Payloads, draftMeta extract.TransactionMeta, validRefs map[string]bool) (*datastore.Grade, error) {
	var response capability.ReasonerResponse
	callErr := retry.Do(ctx, g.Settings.Reasoner.Retry, func(callCtx context.Context) error {
		out, err := g.Reasoner.Complete(callCtx, g.PromptB(transcript, payloads), "medium", true)
		if err != nil {
			return errors.Transient(err, errors.CategoryReasoner)
		}
		response = out
		return nil
	})
	if callErr != nil {
		return nil, callErr
	}

	fields, unknown := parseResponse(response.Text)
	result := buildGradeRow(transactionID, transcript, fields, unknown, validRefs)
	result.CompleteOrder = draftMeta.CompleteOrder
	result.MobileOrder = draftMeta.MobileOrder
	result.CouponUsed = draftMeta.CouponUsed
	result.AskedMoreTime = draftMeta.AskedMoreTime
	result.OutOfStockItems = draftMeta.OutOfStockItems
	result.ReasoningSummary = stringField(fields, "28")
	if result.ReasoningSummary == "" {
		result.ReasoningSummary = response.ReasoningSummary
	}
	result.GPTPrice = computeGPTPrice(g.Settings, response.Usage)
	return result, nil
}

func computeGPTPrice(settings *conf.Settings, usage capability.ReasonerUsage) float64 {
	inputCost := float64(usage.InputTokens) / 1_000_000 * settings.Reasoner.PriceInputPerM
	outputCost := float64(usage.OutputTokens) / 1_000_000 * settings.Reasoner.PriceOutputPerM
	return round2(inputCost + outputCost)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// parseResponse tolerantly decodes the Reasoner's numbered-key JSON
// object, returning the known fields table and anything unrecognized
// for the details blob (spec.md §4.4 parsing rules).
func parseResponse(raw string) (map[string]any, map[string]any) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return map[string]any{}, map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return map[string]any{}, map[string]any{}
	}

	known := map[string]bool{}
	for _, k := range []string{
		"1", "2", "3", "4", "4_base", "5", "6", "7", "8_base_sold", "9", "10",
		"11", "11_base", "12", "13", "14", "14_base", "15", "16", "16_base_sold",
		"18", "18_base", "19", "20", "21", "21_base", "22", "23", "23_base_sold",
		"25", "26", "27", "28",
	} {
		known[k] = true
	}

	unknown := map[string]any{}
	for k, v := range obj {
		if !known[k] {
			unknown[k] = v
		}
	}
	return obj, unknown
}

func buildGradeRow(transactionID, transcript string, f map[string]any, unknown map[string]any, validRefs map[string]bool) *datastore.Grade {
	upsell := datastore.CategoryFunnel{
		NumOpportunities: intField(f, "3"),
		CandidateItems:   listField(f, "4"),
		BaseItems:        listField(f, "4_base"),
		NumOffers:        intField(f, "5"),
		OfferedItems:     listField(f, "6"),
		SuccessItems:     listField(f, "7"),
		BaseSoldItems:    listField(f, "8_base_sold"),
		NumSuccesses:     intField(f, "9"),
	}
	upsize := datastore.CategoryFunnel{
		NumOpportunities: intField(f, "11"),
		BaseItems:        listField(f, "11_base"),
		CandidateItems:   listField(f, "12"),
		NumOffers:        intField(f, "14"),
		OfferedItems:     listField(f, "14_base"),
		NumSuccesses:     intField(f, "15"),
		SuccessItems:     listField(f, "16"),
		BaseSoldItems:    listField(f, "16_base_sold"),
	}
	_ = listField(f, "13") // items that created the upsize opportunity (spec.md §4.4 key 13); parsed and not stored, BaseItems comes from 11_base

	addOn := datastore.CategoryFunnel{
		NumOpportunities: intField(f, "18"),
		BaseItems:        listField(f, "18_base"),
		CandidateItems:   listField(f, "19"),
		NumOffers:        intField(f, "21"),
		OfferedItems:     listField(f, "21_base"),
		NumSuccesses:     intField(f, "22"),
		SuccessItems:     listField(f, "23"),
		BaseSoldItems:    listField(f, "23_base_sold"),
	}
	_ = listField(f, "20") // base items behind the add-on opportunity

	numUpsellOpp := upsell.NumOpportunities
	numUpsizeOpp := upsize.NumOpportunities
	score := 0.0
	if denom := numUpsellOpp + numUpsizeOpp; denom > 0 {
		score = float64(upsell.NumOffers+upsize.NumOffers) / float64(denom)
	}
	if score > 1 {
		score = 1 // spec.md §3: score is a [0,1] data-model constraint
	}

	detailsJSON, _ := json.Marshal(unknown)

	grade := &datastore.Grade{
		TransactionID:    transactionID,
		Transcript:       transcript,
		Score:            score,
		NumItemsInitial:  intField(f, "2"),
		NumItemsAfter:    intField(f, "26"),
		NumLargestOffers: intField(f, "10"),
		Feedback:         stringField(f, "27"),
		DetailsJSON:      string(detailsJSON),
	}
	itemsInitial := listField(f, "1")
	itemsAfter := listField(f, "25")
	grade.ItemsInitialJSON = marshalList(itemsInitial)
	grade.ItemsAfterJSON = marshalList(itemsAfter)
	grade.UpsellJSON = marshalFunnel(upsell)
	grade.UpsizeJSON = marshalFunnel(upsize)
	grade.AddOnJSON = marshalFunnel(addOn)

	issues := sanityCheck(upsell, "upsell", validRefs)
	issues = append(issues, sanityCheck(upsize, "upsize", validRefs)...)
	issues = append(issues, sanityCheck(addOn, "addon", validRefs)...)
	issues = append(issues, unknownRefIssues("items_initial", itemsInitial, validRefs)...)
	issues = append(issues, unknownRefIssues("items_after", itemsAfter, validRefs)...)
	issuesJSON, _ := json.Marshal(issues)
	grade.Issues = string(issuesJSON)

	return grade
}

// sanityCheck records (not fails on) violations of offers<=opportunities,
// successes<=offers, list-length consistency, and unknown menu
// references against the location's catalog (spec.md §4.4, §3
// invariant "every menu reference in a Grade ... exists in the
// Location's menu"). validRefs is nil when the catalog failed to
// load, in which case reference checks are skipped rather than
// flagging every item as unknown.
func sanityCheck(funnel datastore.CategoryFunnel, label string, validRefs map[string]bool) []string {
	var issues []string
	if funnel.NumOffers > funnel.NumOpportunities {
		issues = append(issues, label+": offers exceed opportunities")
	}
	if funnel.NumSuccesses > funnel.NumOffers {
		issues = append(issues, label+": successes exceed offers")
	}
	if len(funnel.OfferedItems) > 0 && len(funnel.OfferedItems) != funnel.NumOffers {
		issues = append(issues, label+": offered item list length does not match declared offer count")
	}
	if len(funnel.SuccessItems) > 0 && len(funnel.SuccessItems) != funnel.NumSuccesses {
		issues = append(issues, label+": success item list length does not match declared success count")
	}
	issues = append(issues, unknownRefIssues(label+" candidate", funnel.CandidateItems, validRefs)...)
	issues = append(issues, unknownRefIssues(label+" base", funnel.BaseItems, validRefs)...)
	issues = append(issues, unknownRefIssues(label+" offered", funnel.OfferedItems, validRefs)...)
	issues = append(issues, unknownRefIssues(label+" success", funnel.SuccessItems, validRefs)...)
	issues = append(issues, unknownRefIssues(label+" base sold", funnel.BaseSoldItems, validRefs)...)
	return issues
}

// unknownRefIssues flags menu references absent from the location's
// catalog (spec.md §7 ConstraintViolation "unknown menu reference").
func unknownRefIssues(label string, refs datastore.MenuRefList, validRefs map[string]bool) []string {
	if len(validRefs) == 0 {
		return nil
	}
	var issues []string
	for _, ref := range refs {
		if !validRefs[ref] {
			issues = append(issues, label+": unknown menu reference "+ref)
		}
	}
	return issues
}

func marshalList(items datastore.MenuRefList) string {
	data, _ := json.Marshal(items)
	return string(data)
}

func marshalFunnel(f datastore.CategoryFunnel) string {
	data, _ := json.Marshal(f)
	return string(data)
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// intField coerces a numbered-key value to an int via best-effort
// numeric parse, defaulting to 0 (spec.md §4.4 parsing rules).
func intField(obj map[string]any, key string) int {
	v, ok := obj[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

// listField coerces a numbered-key value to a MenuRefList, accepting
// JSON arrays, JSON-encoded array strings, comma-separated strings, or
// the literal "0"/0 meaning empty (spec.md §4.4 parsing rules).
func listField(obj map[string]any, key string) datastore.MenuRefList {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []any:
		return toStringList(t)
	case float64:
		return nil // literal 0 means empty
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "0" {
			return nil
		}
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return toStringList(arr)
		}
		parts := strings.Split(s, ",")
		out := make(datastore.MenuRefList, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

func toStringList(items []any) datastore.MenuRefList {
	out := make(datastore.MenuRefList, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
