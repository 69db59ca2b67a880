package orchestrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hoptix/pipeline/internal/analytics"
	"github.com/hoptix/pipeline/internal/blobstore"
	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/diarize"
	"github.com/hoptix/pipeline/internal/extract"
	"github.com/hoptix/pipeline/internal/fileshare"
	"github.com/hoptix/pipeline/internal/grade"
	"github.com/hoptix/pipeline/internal/menu"
	"github.com/hoptix/pipeline/internal/splitter"
	"github.com/hoptix/pipeline/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV mirrors the fixture helper the splitter/diarize tests
// use: a mono 16-bit PCM WAV built from raw samples, so silence windows
// (exact-zero amplitude) and active windows are fully controlled.
func writeTestWAV(t *testing.T, path string, samples []int, sampleRate int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{Data: samples, Format: &audio.Format{SampleRate: sampleRate, NumChannels: 1}, SourceBitDepth: 16}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

// twoTransactionSource builds a 6-second fixture with two active spans
// ([1s,3s) and [4s,5s)) separated by silence, so DetectTransactions
// finds exactly two spans at the default 1s silence window.
func twoTransactionSource(t *testing.T, path string, rate int) {
	t.Helper()
	samples := make([]int, 6*rate)
	for _, span := range [][2]int{{1, 3}, {4, 5}} {
		for i := span[0] * rate; i < span[1]*rate; i++ {
			samples[i] = 1000
		}
	}
	writeTestWAV(t, path, samples, rate)
}

func baseSettings(t *testing.T) *conf.Settings {
	s := &conf.Settings{}
	s.Splitter.SilenceWindowSec = 1
	s.Splitter.TargetChunkSec = 3600
	s.Splitter.OverlapSec = 0
	s.Splitter.MaxDurationSec = 0
	s.Splitter.MaxSizeBytes = 0
	s.Orchestrator.ChunkParallelism = 2
	s.Orchestrator.GradeParallelism = 2
	s.Orchestrator.GradeBatches = 2
	s.Orchestrator.MinCompletedFraction = 0.5
	s.Orchestrator.MaxJobDurationSec = 60
	s.Orchestrator.WorkDir = t.TempDir()
	s.BlobStore.Bucket = "test-bucket"
	s.Voice.VoiceParallelWorkers = 2
	s.Voice.MatchThreshold = 0.8
	return s
}

// newTestOrchestrator wires an Orchestrator by hand rather than via
// New, so extraction and grading can use independent FakeReasoner
// scripts despite sharing the package's single Reasoner interface
// field.
func newTestOrchestrator(t *testing.T, settings *conf.Settings, db datastore.Database, share fileshare.FileShare, blobs blobstore.BlobStore, extractReasoner, gradeReasoner capability.Reasoner, asr capability.ASR) *Orchestrator {
	return &Orchestrator{
		Settings:    settings,
		Database:    db,
		BlobStore:   blobs,
		FileShare:   share,
		Splitter:    splitter.New(settings, share),
		Transcriber: transcribe.New(settings, asr),
		Extractor:   extract.New(settings, extractReasoner, nil),
		MenuBinder:  menu.New(db),
		Grader:      grade.New(settings, gradeReasoner, nil),
		Diarizer: &diarize.Diarizer{
			Settings:  settings,
			FileShare: share,
			Diarize:   &capability.FakeDiarizer{},
			Embed:     &capability.FakeEmbedder{},
			Database:  db,
			WorkDir:   settings.Orchestrator.WorkDir,
		},
	}
}

func seedLocationAndMenu(db *datastore.MemoryStore, locationID, orgID string) {
	db.Locations[locationID] = &datastore.Location{ID: locationID, OrgID: orgID, Name: "Test Drive-Thru", Timezone: "America/Chicago"}
	db.Items[datastore.NewID()] = &datastore.MenuItem{ID: datastore.NewID(), LocationID: locationID, ItemID: "burger_1", Name: "Burger"}
}

func TestIngestIsIdempotentForSameLocationAndDate(t *testing.T) {
	settings := baseSettings(t)
	db := datastore.NewMemoryStore()
	locationID, orgID := "loc-1", "org-1"
	seedLocationAndMenu(db, locationID, orgID)

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.wav")
	twoTransactionSource(t, sourcePath, 8000)

	share := fileshare.NewLocalShare(t.TempDir())
	blobs := blobstore.NewLocalStore(t.TempDir())
	o := newTestOrchestrator(t, settings, db, share, blobs, &capability.FakeReasoner{}, &capability.FakeReasoner{}, &capability.FakeASR{})

	runID1, err := o.Ingest(context.Background(), locationID, "2026-07-31", sourcePath)
	require.NoError(t, err)

	runID2, err := o.Ingest(context.Background(), locationID, "2026-07-31", sourcePath)
	require.NoError(t, err)

	assert.Equal(t, runID1, runID2)
	assert.Len(t, db.Runs, 1)
}

func TestFullPipelineProcessesTwoTransactionsAndFinalizesAnalytics(t *testing.T) {
	settings := baseSettings(t)
	db := datastore.NewMemoryStore()
	locationID, orgID := "loc-1", "org-1"
	seedLocationAndMenu(db, locationID, orgID)

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.wav")
	twoTransactionSource(t, sourcePath, 8000)

	share := fileshare.NewLocalShare(t.TempDir())
	blobs := blobstore.NewLocalStore(t.TempDir())

	asr := &capability.FakeASR{Transcripts: []string{"I'll have a number one combo", "just a small fries"}}
	extractReasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{
		{Text: `{"1":"I'll have a number one combo","2":1,"3":0,"4":0,"5":0,"6":"0"}`},
		{Text: `{"1":"just a small fries","2":1,"3":0,"4":0,"5":0,"6":"0"}`},
	}}
	gradeReasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{
		{
			Text: `{"1":["burger_1"],"2":1,"3":1,"4":["burger_2"],"4_base":["burger_1"],"5":1,"6":["burger_2"],` +
				`"7":["burger_2"],"8_base_sold":["burger_1"],"9":1,"10":1,"11":0,"11_base":[],"12":[],"13":[],` +
				`"14":0,"14_base":[],"15":0,"16":[],"16_base_sold":[],"18":1,"18_base":["burger_1"],"19":["sauce_1"],` +
				`"20":[],"21":1,"21_base":["sauce_1"],"22":1,"23":["sauce_1"],"23_base_sold":["burger_1"],` +
				`"25":["burger_2","sauce_1"],"26":2,"27":"Great upsell on size.","28":"note"}`,
			Usage: capability.ReasonerUsage{InputTokens: 100, OutputTokens: 50},
		},
	}}

	o := newTestOrchestrator(t, settings, db, share, blobs, extractReasoner, gradeReasoner, asr)

	runID, err := o.Ingest(context.Background(), locationID, "2026-07-31", sourcePath)
	require.NoError(t, err)

	processErr := o.Process(context.Background(), runID)
	require.NoError(t, processErr)

	require.NoError(t, o.Finalize(context.Background(), runID, processErr))

	run, err := db.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "complete", run.Status)

	var diag Diagnostics
	require.NoError(t, json.Unmarshal([]byte(run.Diagnostics), &diag))
	assert.Equal(t, 1, diag.ChunksTotal)
	assert.Equal(t, 0, diag.ChunksFailed)
	assert.Equal(t, 2, diag.TransactionsTotal)
	assert.Equal(t, 0, diag.GradesFailed)

	transactions, err := db.ListTransactionsByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, transactions, 2)

	grades, err := db.ListGradesByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, grades, 2)
	for _, g := range grades {
		assert.InDelta(t, 1.0, g.Score, 0.001)
		assert.True(t, g.CompleteOrder)
	}

	storeAnalytics, ok := db.RunAnalytics[runID]
	require.True(t, ok)
	var report analytics.StoreReport
	require.NoError(t, json.Unmarshal([]byte(storeAnalytics.DataJSON), &report))
	assert.Equal(t, 2, report.Upsell.NumOpportunities+report.Upsize.NumOpportunities)
}

func TestPhaseOneTransactionsEnforcesMinCompletedFraction(t *testing.T) {
	settings := baseSettings(t)
	settings.Orchestrator.MinCompletedFraction = 0.5
	db := datastore.NewMemoryStore()
	share := fileshare.NewLocalShare(t.TempDir())

	asr := &capability.FakeASR{Transcripts: []string{"hello"}}
	extractReasoner := &capability.FakeReasoner{Responses: []capability.ReasonerResponse{{Text: `{"1":"hello","2":1}`}}}
	o := newTestOrchestrator(t, settings, db, share, blobstore.NewLocalStore(t.TempDir()), extractReasoner, &capability.FakeReasoner{}, asr)

	// Every chunk fails because the root recording's object key names a
	// file that does not exist, so Splitter.Cut errors on every chunk;
	// the resulting 0% completion must breach MinCompletedFraction.
	root := &datastore.Recording{ID: "root", RunID: "run-1", LocationID: "loc-1", ObjectKey: filepath.Join(t.TempDir(), "missing.wav")}
	chunkA := datastore.Recording{ID: "chunk-a", RunID: "run-1", LocationID: "loc-1"}
	chunkA.MetaJSON = marshalMeta(datastore.RecordingMeta{IsChunk: true, ChunkIndex: 0, ChunkStartSec: 0, ChunkEndSec: 6})
	chunkB := datastore.Recording{ID: "chunk-b", RunID: "run-1", LocationID: "loc-1"}
	chunkB.MetaJSON = marshalMeta(datastore.RecordingMeta{IsChunk: true, ChunkIndex: 1, ChunkStartSec: 6, ChunkEndSec: 12})

	diag := &Diagnostics{}
	_, _, err := o.phaseOneTransactions(context.Background(), "run-1", root, []datastore.Recording{chunkA, chunkB}, settings.Orchestrator.WorkDir, diag)
	require.Error(t, err)
	assert.Equal(t, 2, diag.ChunksTotal)
	assert.Equal(t, 2, diag.ChunksFailed)
}
