// Package orchestrate implements the Orchestrator (spec.md §4.6):
// drive one (location, date) run end-to-end — ingest, three processing
// phases, and finalize — wiring every other capability package behind
// bounded worker pools and a monitoring sink.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hoptix/pipeline/internal/blobstore"
	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/diarize"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/extract"
	"github.com/hoptix/pipeline/internal/fileshare"
	"github.com/hoptix/pipeline/internal/grade"
	"github.com/hoptix/pipeline/internal/menu"
	"github.com/hoptix/pipeline/internal/monitor"
	"github.com/hoptix/pipeline/internal/retry"
	"github.com/hoptix/pipeline/internal/splitter"
	"github.com/hoptix/pipeline/internal/transcribe"
)

// Diagnostics is the run-scoped counter set persisted as Run.Diagnostics
// (spec.md §4.6 finalize, §7 "run diagnostics").
type Diagnostics struct {
	ChunksTotal           int    `json:"chunks_total"`
	ChunksFailed          int    `json:"chunks_failed"`
	TransactionsTotal     int    `json:"transactions_total"`
	GradesFailed          int    `json:"grades_failed"`
	ClipsFailed           int    `json:"clips_failed"`
	VoiceMatched          int    `json:"voice_matched"`
	VoiceSkipped          int    `json:"voice_skipped"`
	VoiceFailed           int    `json:"voice_failed"`
	OffersGTOpportunities int    `json:"offers_gt_opportunities"`
	SuccessesGTOffers     int    `json:"successes_gt_offers"`
	UnknownMenuReferences int    `json:"unknown_menu_references"`
	Error                 string `json:"error,omitempty"`
}

func (d *Diagnostics) marshal() string {
	data, _ := json.Marshal(d)
	return string(data)
}

// Orchestrator bundles every capability the pipeline depends on plus
// the monitoring sink (spec.md §9 "no singletons" — every dependency
// is an explicit field, constructed once by the caller).
type Orchestrator struct {
	Settings  *conf.Settings
	Database  datastore.Database
	BlobStore blobstore.BlobStore
	FileShare fileshare.FileShare

	Splitter    *splitter.MediaSplitter
	Transcriber *transcribe.Transcriber
	Extractor   *extract.Extractor
	MenuBinder  *menu.Binder
	Grader      *grade.Grader
	Diarizer    *diarize.Diarizer

	Metrics *monitor.RunMetrics
}

// New wires every capability into an Orchestrator. The one reasoner
// serves both the Extractor and the Grader, each with its own prompt
// function.
func New(settings *conf.Settings, db datastore.Database, blobs blobstore.BlobStore, share fileshare.FileShare,
	asr capability.ASR, reasoner capability.Reasoner, diarizer capability.Diarizer, embedder capability.Embedder,
	metrics *monitor.RunMetrics) *Orchestrator {
	return &Orchestrator{
		Settings:    settings,
		Database:    db,
		BlobStore:   blobs,
		FileShare:   share,
		Splitter:    splitter.New(settings, share),
		Transcriber: transcribe.New(settings, asr),
		Extractor:   extract.New(settings, reasoner, nil),
		MenuBinder:  menu.New(db),
		Grader:      grade.New(settings, reasoner, nil),
		Diarizer: &diarize.Diarizer{
			Settings:  settings,
			FileShare: share,
			Diarize:   diarizer,
			Embed:     embedder,
			Database:  db,
			WorkDir:   settings.Orchestrator.WorkDir,
		},
		Metrics: metrics,
	}
}

// Ingest implements spec.md §4.6 ingest: idempotent on (location_id,
// date) — a pre-existing Run for the pair is returned as-is, otherwise
// a new Run, root Recording, and chunk Recordings (from the splitter's
// plan) are created and the Run transitions to "processing".
func (o *Orchestrator) Ingest(ctx context.Context, locationID, runDate, sourcePath string) (string, error) {
	if existing, err := o.Database.GetRunByLocationDate(ctx, locationID, runDate); err == nil {
		return existing.ID, nil
	}

	location, err := o.Database.GetLocation(ctx, locationID)
	if err != nil {
		return "", errors.New(err).Category(errors.CategoryOrchestration).Build()
	}

	now := time.Now()
	run := &datastore.Run{
		ID:         datastore.NewID(),
		OrgID:      location.OrgID,
		LocationID: locationID,
		RunDate:    runDate,
		Status:     "processing",
		StartedAt:  now,
	}
	if err := retry.Do(ctx, o.Settings.Orchestrator.DatabaseRetry, func(callCtx context.Context) error {
		return o.Database.UpsertRun(callCtx, run)
	}); err != nil {
		return "", err
	}

	plan, err := o.Splitter.Plan(ctx, sourcePath)
	if err != nil {
		return "", err
	}

	duration := 0.0
	for _, spec := range plan.Chunks {
		if spec.EndSec > duration {
			duration = spec.EndSec
		}
	}

	root := &datastore.Recording{
		ID:         datastore.NewID(),
		RunID:      run.ID,
		LocationID: locationID,
		StartedAt:  run.StartedAt,
		EndedAt:    run.StartedAt.Add(secToDuration(duration)),
		ObjectKey:  sourcePath,
		Status:     "ready",
	}
	root.MetaJSON = marshalMeta(datastore.RecordingMeta{IsChunk: false})
	if err := o.upsertRecording(ctx, root); err != nil {
		return "", err
	}

	for _, spec := range plan.Chunks {
		chunkRec := &datastore.Recording{
			ID:         datastore.NewID(),
			RunID:      run.ID,
			LocationID: locationID,
			StartedAt:  root.StartedAt.Add(secToDuration(spec.StartSec)),
			EndedAt:    root.StartedAt.Add(secToDuration(spec.EndSec)),
			Status:     "ready",
		}
		chunkRec.MetaJSON = marshalMeta(datastore.RecordingMeta{
			IsChunk:       true,
			OriginalID:    root.ID,
			ChunkIndex:    spec.Index,
			ChunkStartSec: spec.StartSec,
			ChunkEndSec:   spec.EndSec,
			OverlapSec:    spec.OverlapSec,
		})
		if err := o.upsertRecording(ctx, chunkRec); err != nil {
			return "", err
		}
	}

	return run.ID, nil
}

func (o *Orchestrator) upsertRecording(ctx context.Context, rec *datastore.Recording) error {
	return retry.Do(ctx, o.Settings.Orchestrator.DatabaseRetry, func(callCtx context.Context) error {
		return o.Database.UpsertRecording(callCtx, rec)
	})
}

func marshalMeta(meta datastore.RecordingMeta) string {
	data, _ := json.Marshal(meta)
	return string(data)
}

func secToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// Run is the CLI-facing convenience wrapper: ingest, process, finalize
// in sequence. Finalize always runs, even when Process reports
// partial failure, so analytics and run status reflect whatever
// completed (spec.md §7 "task-level failures do not abort").
func (o *Orchestrator) Run(ctx context.Context, locationID, runDate, sourcePath string) (runID string, err error) {
	runID, err = o.Ingest(ctx, locationID, runDate, sourcePath)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.Settings.Orchestrator.MaxJobDurationSec)*time.Second)
	defer cancel()

	processErr := o.Process(ctx, runID)
	if finalizeErr := o.Finalize(ctx, runID, processErr); finalizeErr != nil {
		return runID, fmt.Errorf("finalize: %w", finalizeErr)
	}
	return runID, processErr
}
