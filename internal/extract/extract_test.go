package extract

import (
	"context"
	"testing"
	"time"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Reasoner.Retry = conf.RetryPolicy{MaxRetries: 1}
	return s
}

func TestExtractSplitsTwoSubTransactionsAcrossSegmentRange(t *testing.T) {
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{
		{Text: `{"1":"order A","2":1,"3":0,"4":0,"5":0,"6":"0"}@#&{"1":"order B","2":0,"3":1,"4":0,"5":1,"6":"fries"}`},
	}}
	e := New(testSettings(), reasoner, nil)

	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	seg := transcribe.Segment{StartSec: 10, EndSec: 20, Text: "order A then order B"}

	drafts, err := e.Extract(context.Background(), start, seg)
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	assert.Equal(t, "order A", drafts[0].Transcript)
	assert.True(t, drafts[0].CompleteOrder)
	assert.Equal(t, start.Add(10*time.Second), drafts[0].StartedAt)
	assert.Equal(t, start.Add(15*time.Second), drafts[0].EndedAt)

	assert.Equal(t, "order B", drafts[1].Transcript)
	assert.True(t, drafts[1].MobileOrder)
	assert.True(t, drafts[1].AskedMoreTime)
	assert.Equal(t, "fries", drafts[1].OutOfStockItems)
	assert.Equal(t, start.Add(15*time.Second), drafts[1].StartedAt)
	assert.Equal(t, start.Add(20*time.Second), drafts[1].EndedAt)
}

func TestExtractNeverDiscardsSegmentOnUnparseableResponse(t *testing.T) {
	reasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: "not json at all"}}}
	e := New(testSettings(), reasoner, nil)

	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	seg := transcribe.Segment{StartSec: 0, EndSec: 5, Text: "raw transcript"}

	drafts, err := e.Extract(context.Background(), start, seg)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "raw transcript", drafts[0].Transcript)
	assert.False(t, drafts[0].CompleteOrder)
	assert.Equal(t, start, drafts[0].StartedAt)
	assert.Equal(t, start.Add(5*time.Second), drafts[0].EndedAt)
}
