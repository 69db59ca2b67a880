package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hoptix/pipeline/internal/blobstore"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/diarize"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/extract"
	"github.com/hoptix/pipeline/internal/fileshare"
	"github.com/hoptix/pipeline/internal/menu"
	"github.com/hoptix/pipeline/internal/retry"
	"github.com/hoptix/pipeline/internal/splitter"
	"github.com/hoptix/pipeline/internal/transcribe"
	"golang.org/x/sync/errgroup"
)

// chunkOutcome is one chunk's successful Phase 1 output.
type chunkOutcome struct {
	segments     []transcribe.Segment
	transactions []datastore.Transaction
}

// Process implements spec.md §4.6 process: the three phases run in
// order, each a barrier over its own bounded worker pool (spec.md §5).
// A phase error means that phase's MinCompletedFraction was not met;
// grading and voice diarization are skipped in that case, but the
// Run's diagnostics and whatever artifacts completed are still
// persisted, never rolled back (spec.md §7).
func (o *Orchestrator) Process(ctx context.Context, runID string) error {
	run, err := o.Database.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	location, err := o.Database.GetLocation(ctx, run.LocationID)
	if err != nil {
		return err
	}

	root, chunks, err := o.loadRecordings(ctx, runID)
	if err != nil {
		return err
	}

	runWorkDir := filepath.Join(o.Settings.Orchestrator.WorkDir, runID)
	if err := os.MkdirAll(runWorkDir, 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryOrchestration).Build()
	}
	defer os.RemoveAll(runWorkDir)

	diag := &Diagnostics{}

	transactions, segments, phaseErr := o.phaseOneTransactions(ctx, runID, root, chunks, runWorkDir, diag)
	_ = o.persistSegmentsArtifact(ctx, runID, segments)
	_ = o.persistTransactionsArtifact(ctx, runID, transactions)
	if phaseErr != nil {
		diag.Error = phaseErr.Error()
		_ = o.Database.UpdateRunStatus(ctx, runID, "processing", diag.marshal())
		return fmt.Errorf("phase 1 transactions: %w", phaseErr)
	}

	payloads := o.MenuBinder.Bind(ctx, run.LocationID)
	validRefs := o.MenuBinder.Refs(ctx, run.LocationID)
	grades, phaseErr := o.phaseTwoGrading(ctx, transactions, payloads, validRefs, diag)
	_ = o.persistGradesArtifact(ctx, runID, grades)
	if phaseErr != nil {
		diag.Error = phaseErr.Error()
		_ = o.Database.UpdateRunStatus(ctx, runID, "processing", diag.marshal())
		return fmt.Errorf("phase 2 grading: %w", phaseErr)
	}

	o.phaseThreeVoice(ctx, run, root, location, transactions, grades, runWorkDir, diag)

	return o.Database.UpdateRunStatus(ctx, runID, "processing", diag.marshal())
}

// loadRecordings splits a run's Recordings into its single root and
// its chunk Recordings (ordered by chunk_index), per the meta flag
// Ingest stamped on each row.
func (o *Orchestrator) loadRecordings(ctx context.Context, runID string) (*datastore.Recording, []datastore.Recording, error) {
	recordings, err := o.Database.ListRecordingsByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	var root *datastore.Recording
	var chunks []datastore.Recording
	for i := range recordings {
		var meta datastore.RecordingMeta
		_ = json.Unmarshal([]byte(recordings[i].MetaJSON), &meta)
		if meta.IsChunk {
			chunks = append(chunks, recordings[i])
		} else {
			r := recordings[i]
			root = &r
		}
	}
	if root == nil {
		return nil, nil, errors.Constraint("run has no root recording", errors.CategoryOrchestration)
	}
	sort.Slice(chunks, func(i, j int) bool {
		var mi, mj datastore.RecordingMeta
		_ = json.Unmarshal([]byte(chunks[i].MetaJSON), &mi)
		_ = json.Unmarshal([]byte(chunks[j].MetaJSON), &mj)
		return mi.ChunkIndex < mj.ChunkIndex
	})
	return root, chunks, nil
}

// phaseOneTransactions runs one chunk → Transcriber → TransactionExtractor
// → Transaction rows per chunk, bounded by ChunkParallelism (spec.md
// §4.6 Phase 1, §5).
func (o *Orchestrator) phaseOneTransactions(ctx context.Context, runID string, root *datastore.Recording, chunks []datastore.Recording, runWorkDir string, diag *Diagnostics) ([]datastore.Transaction, []transcribe.Segment, error) {
	outcomes := make([]chunkOutcome, len(chunks))
	failed := make([]bool, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	limit := o.Settings.Orchestrator.ChunkParallelism
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	for i, chunkRec := range chunks {
		i, chunkRec := i, chunkRec
		group.Go(func() error {
			outcome, err := o.processChunk(groupCtx, chunkRec, root.ObjectKey, runWorkDir)
			if err != nil {
				failed[i] = true
				o.recordItem("chunks", "failure")
				return nil // a chunk's failure does not abort its siblings (spec.md §7)
			}
			outcomes[i] = outcome
			o.recordItem("chunks", "success")
			return nil
		})
	}
	_ = group.Wait()

	var allTx []datastore.Transaction
	var allSegments []transcribe.Segment
	for i, outcome := range outcomes {
		diag.ChunksTotal++
		if failed[i] {
			diag.ChunksFailed++
			continue
		}
		allTx = append(allTx, outcome.transactions...)
		allSegments = append(allSegments, outcome.segments...)
	}
	sort.Slice(allTx, func(i, j int) bool { return allTx[i].StartedAt.Before(allTx[j].StartedAt) })
	diag.TransactionsTotal = len(allTx)

	if diag.ChunksTotal > 0 {
		successFraction := float64(diag.ChunksTotal-diag.ChunksFailed) / float64(diag.ChunksTotal)
		if successFraction < o.Settings.Orchestrator.MinCompletedFraction {
			return allTx, allSegments, errors.Constraint(
				fmt.Sprintf("only %.0f%% of chunks completed, below MinCompletedFraction", successFraction*100),
				errors.CategoryOrchestration)
		}
	}
	return allTx, allSegments, nil
}

// processChunk cuts one chunk from the source recording, detects its
// active spans, transcribes them, and extracts draft transactions from
// each segment.
func (o *Orchestrator) processChunk(ctx context.Context, chunkRec datastore.Recording, sourcePath, runWorkDir string) (chunkOutcome, error) {
	var meta datastore.RecordingMeta
	_ = json.Unmarshal([]byte(chunkRec.MetaJSON), &meta)

	chunkWorkDir := filepath.Join(runWorkDir, "chunks", chunkRec.ID)
	if err := os.MkdirAll(chunkWorkDir, 0o755); err != nil {
		return chunkOutcome{}, errors.New(err).Category(errors.CategoryOrchestration).Build()
	}
	defer os.RemoveAll(chunkWorkDir)

	spec := splitter.ChunkSpec{Index: meta.ChunkIndex, StartSec: meta.ChunkStartSec, EndSec: meta.ChunkEndSec, OverlapSec: meta.OverlapSec}
	media, err := o.Splitter.Cut(ctx, sourcePath, splitter.ChunkPlan{Chunks: []splitter.ChunkSpec{spec}}, chunkWorkDir)
	if err != nil {
		return chunkOutcome{}, err
	}
	chunkPath := media[0].Path

	ranges, err := o.Splitter.DetectTransactions(ctx, chunkPath)
	if err != nil {
		return chunkOutcome{}, err
	}

	segments, err := o.Transcriber.Transcribe(ctx, chunkPath, ranges, extractSpanFile, chunkWorkDir)
	if err != nil {
		return chunkOutcome{}, err
	}

	var transactions []datastore.Transaction
	for _, seg := range segments {
		drafts, extractErr := o.Extractor.Extract(ctx, chunkRec.StartedAt, seg)
		if extractErr != nil {
			o.recordItem("transactions", "failure")
			continue
		}
		for _, d := range drafts {
			metaJSON, _ := json.Marshal(d.Meta())
			tx := datastore.Transaction{
				ID:          datastore.NewID(),
				RunID:       chunkRec.RunID,
				RecordingID: chunkRec.ID,
				StartedAt:   d.StartedAt,
				EndedAt:     d.EndedAt,
				Kind:        datastore.TransactionKindOrder,
				MetaJSON:    string(metaJSON),
			}
			if upsertErr := retry.Do(ctx, o.Settings.Orchestrator.DatabaseRetry, func(callCtx context.Context) error {
				return o.Database.UpsertTransaction(callCtx, &tx)
			}); upsertErr != nil {
				o.recordItem("transactions", "failure")
				continue
			}
			o.recordItem("transactions", "success")
			transactions = append(transactions, tx)
		}
	}

	return chunkOutcome{segments: segments, transactions: transactions}, nil
}

func extractSpanFile(chunkPath string, r splitter.TimeRange, workDir string) (string, error) {
	spanPath := filepath.Join(workDir, fmt.Sprintf("span_%d_%d.wav", int(r.StartSec*1000), int(r.EndSec*1000)))
	if err := splitter.ExtractRange(chunkPath, spanPath, r.StartSec, r.EndSec); err != nil {
		return "", err
	}
	return spanPath, nil
}

// phaseTwoGrading partitions transactions into GradeBatches batches,
// each graded by a pool worker (spec.md §4.6 Phase 2, §5).
func (o *Orchestrator) phaseTwoGrading(ctx context.Context, transactions []datastore.Transaction, payloads menu.Payloads, validRefs map[string]bool, diag *Diagnostics) ([]datastore.Grade, error) {
	batches := partitionBatches(transactions, o.Settings.Orchestrator.GradeBatches)
	results := make([][]datastore.Grade, len(batches))

	group, groupCtx := errgroup.WithContext(ctx)
	limit := o.Settings.Orchestrator.GradeParallelism
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	for bi, batch := range batches {
		bi, batch := bi, batch
		group.Go(func() error {
			var out []datastore.Grade
			for _, tx := range batch {
				var draftMeta extract.TransactionMeta
				_ = json.Unmarshal([]byte(tx.MetaJSON), &draftMeta)

				result, err := o.Grader.Grade(groupCtx, tx.ID, draftMeta.Transcript, payloads, draftMeta, validRefs)
				if err != nil {
					o.recordItem("grading", "failure")
					continue
				}
				if err := retry.Do(groupCtx, o.Settings.Orchestrator.DatabaseRetry, func(callCtx context.Context) error {
					return o.Database.UpsertGrade(callCtx, result)
				}); err != nil {
					o.recordItem("grading", "failure")
					continue
				}
				o.recordItem("grading", "success")
				out = append(out, *result)
			}
			results[bi] = out
			return nil
		})
	}
	_ = group.Wait()

	var grades []datastore.Grade
	for _, batch := range results {
		grades = append(grades, batch...)
	}
	for _, g := range grades {
		var issues []string
		_ = json.Unmarshal([]byte(g.Issues), &issues)
		for _, issue := range issues {
			if strings.Contains(issue, "offers exceed opportunities") {
				diag.OffersGTOpportunities++
			}
			if strings.Contains(issue, "successes exceed offers") {
				diag.SuccessesGTOffers++
			}
			if strings.Contains(issue, "unknown menu reference") {
				diag.UnknownMenuReferences++
			}
		}
	}
	diag.GradesFailed = len(transactions) - len(grades)
	if len(transactions) > 0 {
		successFraction := float64(len(grades)) / float64(len(transactions))
		if successFraction < o.Settings.Orchestrator.MinCompletedFraction {
			return grades, errors.Constraint(
				fmt.Sprintf("only %.0f%% of grades completed, below MinCompletedFraction", successFraction*100),
				errors.CategoryOrchestration)
		}
	}
	return grades, nil
}

func partitionBatches(items []datastore.Transaction, k int) [][]datastore.Transaction {
	if k <= 0 {
		k = 1
	}
	batches := make([][]datastore.Transaction, k)
	for i, item := range items {
		idx := i % k
		batches[idx] = append(batches[idx], item)
	}
	return batches
}

// phaseThreeVoice clips every transaction from the root recording and
// runs voice diarization over the batch (spec.md §4.6 Phase 3, §4.5).
// Voice-diarization failures never fail the Run (spec.md §7): every
// error path here is recorded in diag and swallowed.
func (o *Orchestrator) phaseThreeVoice(ctx context.Context, run *datastore.Run, root *datastore.Recording, location *datastore.Location, transactions []datastore.Transaction, grades []datastore.Grade, runWorkDir string, diag *Diagnostics) {
	if len(transactions) == 0 {
		return
	}

	gradeByTx := make(map[string]*datastore.Grade, len(grades))
	for i := range grades {
		gradeByTx[grades[i].TransactionID] = &grades[i]
	}

	ranges := make([]splitter.TimeRange, len(transactions))
	ids := make([]string, len(transactions))
	for i, tx := range transactions {
		ranges[i] = splitter.TimeRange{
			StartSec: tx.StartedAt.Sub(root.StartedAt).Seconds(),
			EndSec:   tx.EndedAt.Sub(root.StartedAt).Seconds(),
		}
		ids[i] = tx.ID
	}

	clipWorkDir := filepath.Join(runWorkDir, "clips")
	if err := os.MkdirAll(clipWorkDir, 0o755); err != nil {
		diag.ClipsFailed = len(transactions)
		return
	}
	refs, err := o.Splitter.Clip(ctx, root.ObjectKey, ranges, ids, run.RunDate, clipWorkDir)
	if err != nil {
		diag.ClipsFailed = len(transactions)
		return
	}

	refByIndex := make(map[int]splitter.ClipRef, len(refs))
	for _, r := range refs {
		refByIndex[r.TransactionIndex] = r
	}

	refSet, err := diarize.BuildReferenceSet(ctx, o.Settings, o.FileShare, o.Diarizer.Embed, o.Database, location, filepath.Join(runWorkDir, "voice_refs"))
	if err != nil {
		diag.VoiceFailed = len(transactions)
		return
	}

	jobs := make([]diarize.ClipJob, 0, len(transactions))
	for i, tx := range transactions {
		ref, ok := refByIndex[i]
		if !ok {
			diag.ClipsFailed++
			continue
		}
		tx.ClipRef = ref.Link
		_ = retry.Do(ctx, o.Settings.Orchestrator.DatabaseRetry, func(callCtx context.Context) error {
			return o.Database.UpsertTransaction(callCtx, &tx)
		})
		jobs = append(jobs, diarize.ClipJob{
			Transaction: tx,
			Grade:       gradeByTx[tx.ID],
			Clip:        fileshare.Ref{ID: ref.FileShareID, Link: ref.Link},
		})
	}

	outcomes := o.Diarizer.ProcessBatch(ctx, jobs, refSet)
	for _, outcome := range outcomes {
		switch outcome.FinalState {
		case diarize.StateDone:
			diag.VoiceMatched++
			o.recordItem("clips_diarization", "success")
		case diarize.StateSkipped:
			diag.VoiceSkipped++
			o.recordItem("clips_diarization", "skipped")
		default:
			diag.VoiceFailed++
			o.recordItem("clips_diarization", "failure")
		}
	}
}

func (o *Orchestrator) recordItem(phase, status string) {
	if o.Metrics != nil {
		o.Metrics.RecordPhaseItem(phase, status)
	}
}

func (o *Orchestrator) persistSegmentsArtifact(ctx context.Context, runID string, segments []transcribe.Segment) error {
	records := make([]any, len(segments))
	for i, s := range segments {
		records[i] = s
	}
	return retry.Do(ctx, o.Settings.Orchestrator.BlobStoreRetry, func(callCtx context.Context) error {
		return o.BlobStore.PutJSONL(callCtx, o.Settings.BlobStore.Bucket, blobstore.SessionKey(runID, "segments.jsonl"), records)
	})
}

func (o *Orchestrator) persistTransactionsArtifact(ctx context.Context, runID string, transactions []datastore.Transaction) error {
	records := make([]any, len(transactions))
	for i, t := range transactions {
		records[i] = t
	}
	return retry.Do(ctx, o.Settings.Orchestrator.BlobStoreRetry, func(callCtx context.Context) error {
		return o.BlobStore.PutJSONL(callCtx, o.Settings.BlobStore.Bucket, blobstore.SessionKey(runID, "transactions.jsonl"), records)
	})
}

func (o *Orchestrator) persistGradesArtifact(ctx context.Context, runID string, grades []datastore.Grade) error {
	records := make([]any, len(grades))
	for i, g := range grades {
		records[i] = g
	}
	return retry.Do(ctx, o.Settings.Orchestrator.BlobStoreRetry, func(callCtx context.Context) error {
		return o.BlobStore.PutJSONL(callCtx, o.Settings.BlobStore.Bucket, blobstore.SessionKey(runID, "grades.jsonl"), records)
	})
}
