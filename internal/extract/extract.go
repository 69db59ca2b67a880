// Package extract implements the TransactionExtractor (spec.md §4.3,
// Prompt-A): decide whether a transcribed segment contains one or more
// customer transactions, splitting its time range uniformly when it
// does.
package extract

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/retry"
	"github.com/hoptix/pipeline/internal/transcribe"
)

// delimiter separates consecutive JSON objects in the Reasoner's
// Prompt-A response (spec.md §4.3).
const delimiter = "@#&"

// DraftTransaction is one sub-transaction extracted from a segment,
// with its absolute time range (spec.md §4.3).
type DraftTransaction struct {
	StartedAt       time.Time
	EndedAt         time.Time
	Transcript      string
	CompleteOrder   bool
	MobileOrder     bool
	CouponUsed      bool
	AskedMoreTime   bool
	OutOfStockItems string
}

// TransactionMeta is everything the orchestrator carries forward on
// Transaction.MetaJSON from Phase 1 to Phase 2: the transcript Grading
// needs as its Reasoner input, plus the Prompt-A-derived fields (which
// Prompt-B never re-asks) that get merged onto the persisted Grade row.
type TransactionMeta struct {
	Transcript      string `json:"transcript"`
	CompleteOrder   bool   `json:"complete_order"`
	MobileOrder     bool   `json:"mobile_order"`
	CouponUsed      bool   `json:"coupon_used"`
	AskedMoreTime   bool   `json:"asked_more_time"`
	OutOfStockItems string `json:"out_of_stock_items"`
}

// Meta extracts the fields of d that Phase 2 grading needs.
func (d DraftTransaction) Meta() TransactionMeta {
	return TransactionMeta{
		Transcript:      d.Transcript,
		CompleteOrder:   d.CompleteOrder,
		MobileOrder:     d.MobileOrder,
		CouponUsed:      d.CouponUsed,
		AskedMoreTime:   d.AskedMoreTime,
		OutOfStockItems: d.OutOfStockItems,
	}
}

// Extractor is the extract.TransactionExtractor capability.
type Extractor struct {
	Settings *conf.Settings
	Reasoner capability.Reasoner
	PromptA  func(segmentText string) string
}

func New(settings *conf.Settings, reasoner capability.Reasoner, promptA func(string) string) *Extractor {
	if promptA == nil {
		promptA = defaultPromptA
	}
	return &Extractor{Settings: settings, Reasoner: reasoner, PromptA: promptA}
}

func defaultPromptA(segmentText string) string {
	return "Identify customer transactions in the following drive-thru transcript segment. " +
		"Respond with one JSON object per transaction, separated by \"" + delimiter + "\".\n\n" + segmentText
}

// Extract calls the Reasoner once for recording.started_at-relative
// segment seg and divides the result into K sub-transactions, computed
// as absolute timestamps. A segment is never discarded: if the
// Reasoner returns no parseable object, the whole segment becomes one
// transaction carrying the raw text and zeroed metadata (spec.md
// §4.3).
func (e *Extractor) Extract(ctx context.Context, recordingStartedAt time.Time, seg transcribe.Segment) ([]DraftTransaction, error) {
	var response capability.ReasonerResponse
	callErr := retry.Do(ctx, e.Settings.Reasoner.Retry, func(callCtx context.Context) error {
		out, err := e.Reasoner.Complete(callCtx, e.PromptA(seg.Text), "low", false)
		if err != nil {
			return errors.Transient(err, errors.CategoryReasoner)
		}
		response = out
		return nil
	})
	if callErr != nil {
		return nil, callErr
	}

	objects := parseDelimitedObjects(response.Text)
	if len(objects) == 0 {
		return []DraftTransaction{{
			StartedAt:  recordingStartedAt.Add(secToDuration(seg.StartSec)),
			EndedAt:    recordingStartedAt.Add(secToDuration(seg.EndSec)),
			Transcript: seg.Text,
		}}, nil
	}

	k := len(objects)
	spanSec := seg.EndSec - seg.StartSec
	subDur := spanSec / float64(k)

	drafts := make([]DraftTransaction, 0, k)
	for i, obj := range objects {
		subStart := seg.StartSec + float64(i)*subDur
		subEnd := subStart + subDur
		drafts = append(drafts, DraftTransaction{
			StartedAt:       recordingStartedAt.Add(secToDuration(subStart)),
			EndedAt:         recordingStartedAt.Add(secToDuration(subEnd)),
			Transcript:      stringField(obj, "1"),
			CompleteOrder:   boolField(obj, "2"),
			MobileOrder:     boolField(obj, "3"),
			CouponUsed:      boolField(obj, "4"),
			AskedMoreTime:   boolField(obj, "5"),
			OutOfStockItems: outOfStockField(obj, "6"),
		})
	}
	return drafts, nil
}

func secToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// parseDelimitedObjects splits raw on the literal "@#&" delimiter and
// parses each segment as a JSON object with string keys "1".."6".
// Segments that fail to parse are skipped, not fatal — an empty result
// triggers the never-discard fallback in Extract.
func parseDelimitedObjects(raw string) []map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, delimiter)
	var objects []map[string]any
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		obj, ok := parseJSONObject(part)
		if !ok {
			continue
		}
		objects = append(objects, obj)
	}
	return objects
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

func boolField(obj map[string]any, key string) bool {
	v, ok := obj[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case float64:
		return t != 0
	case string:
		t = strings.TrimSpace(t)
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return n != 0
		}
		return t != "" && t != "0"
	case bool:
		return t
	default:
		return false
	}
}

func outOfStockField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok {
		return "0"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "0"
}
