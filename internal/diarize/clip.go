package diarize

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/fileshare"
	"github.com/hoptix/pipeline/internal/retry"
	"github.com/hoptix/pipeline/internal/splitter"
)

// clipFileNamePattern is the "tx_<uuid>.<wav|mp3|m4a>" naming contract
// for generated transaction clips (spec.md §4.5 Phase 2 step 1).
var clipFileNamePattern = regexp.MustCompile(`^tx_[0-9a-fA-F-]{8,}\.(wav|mp3|m4a)$`)

// State is one step of the per-clip state machine (spec.md §4.5 Phase
// 2 step 7): queued -> downloading -> converting -> diarizing ->
// embedding -> matching -> writing -> done|skipped|failed.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateConverting  State = "converting"
	StateDiarizing   State = "diarizing"
	StateEmbedding   State = "embedding"
	StateMatching    State = "matching"
	StateWriting     State = "writing"
	StateDone        State = "done"
	StateSkipped     State = "skipped"
	StateFailed      State = "failed"
)

// Outcome reports what ProcessClip did with one transaction clip.
type Outcome struct {
	TransactionID ID
	FinalState    State
	WorkerID      string
	Confidence    float64
	Reason        string // set for Skipped/Failed
}

type ID = string

// Diarizer bundles everything ProcessClip needs to resolve one
// transaction's speaker and write the assignment. OnState, if set, is
// called on every state-machine transition for progress logging.
type Diarizer struct {
	Settings  *conf.Settings
	FileShare fileshare.FileShare
	Diarize   capability.Diarizer
	Embed     capability.Embedder
	Database  datastore.Database
	WorkDir   string
	OnState   func(transactionID ID, state State)
}

func (d *Diarizer) enter(transactionID ID, state State) {
	if d.OnState != nil {
		d.OnState(transactionID, state)
	}
}

// ValidClipFileName reports whether name matches the tx_<uuid>.<ext>
// contract; non-matching files are rejected outright (spec.md §4.5
// Phase 2 step 1).
func ValidClipFileName(name string) bool {
	return clipFileNamePattern.MatchString(name)
}

// shouldSkip applies the pre-check skip conditions (spec.md §4.5
// Phase 2 step 2): an incomplete order, or a transaction already
// carrying a worker assignment, is left untouched.
func shouldSkip(tx datastore.Transaction, grade *datastore.Grade) (string, bool) {
	if tx.WorkerID != nil {
		return "already assigned", true
	}
	if grade != nil && !grade.CompleteOrder {
		return "incomplete order", true
	}
	return "", false
}

// ProcessClip runs the full Phase 2 pipeline for one transaction clip:
// download, diarize, build a reference embedding per speaker tag,
// match against the location's reference set, and persist the winning
// assignment.
func (d *Diarizer) ProcessClip(ctx context.Context, tx datastore.Transaction, grade *datastore.Grade, clipRef fileshare.Ref, refSet ReferenceSet) Outcome {
	if reason, skip := shouldSkip(tx, grade); skip {
		return Outcome{TransactionID: tx.ID, FinalState: StateSkipped, Reason: reason}
	}
	// Every outcome from here on reflects a clip Phase 2 actually
	// attempted this run, so voice_processed_at is stamped regardless
	// of whether a worker ends up assigned (spec.md §4.5 Phase 2 step
	// 7; the match case stamps it itself via AssignTransactionWorker).
	fail := func(reason string) Outcome {
		_ = d.Database.MarkVoiceProcessed(ctx, tx.ID)
		return Outcome{TransactionID: tx.ID, FinalState: StateFailed, Reason: reason}
	}
	skip := func(reason string) Outcome {
		_ = d.Database.MarkVoiceProcessed(ctx, tx.ID)
		return Outcome{TransactionID: tx.ID, FinalState: StateSkipped, Reason: reason}
	}

	fileName := filepath.Base(clipRef.ID)
	if !ValidClipFileName(fileName) {
		return fail("clip file name does not match tx_<uuid>.<ext>")
	}

	d.enter(tx.ID, StateDownloading)
	localClip := filepath.Join(d.WorkDir, tx.ID, fileName)
	if err := os.MkdirAll(filepath.Dir(localClip), 0o755); err != nil {
		return fail(err.Error())
	}
	if err := d.FileShare.Download(ctx, clipRef.ID, localClip); err != nil {
		return fail("download: " + err.Error())
	}

	d.enter(tx.ID, StateConverting)
	monoPath := localClip // passed on as downloaded: no conversion here, and the splitter keeps the source's sample rate

	d.enter(tx.ID, StateDiarizing)
	var diarized capability.DiarizeResult
	err := retry.Do(ctx, d.Settings.Diarizer.Retry, func(callCtx context.Context) error {
		out, derr := d.Diarize.Diarize(callCtx, monoPath)
		if derr != nil {
			return errors.Transient(derr, errors.CategoryDiarization)
		}
		diarized = out
		return nil
	})
	if err != nil {
		return fail("diarize: " + err.Error())
	}
	if len(diarized.Utterances) == 0 {
		return skip("no diarized speech")
	}

	d.enter(tx.ID, StateEmbedding)
	groups := groupBySpeaker(diarized.Utterances)
	speakerEmbeddings := map[string][]float32{}
	for _, g := range groups {
		extractSpan := func(startMs, endMs int64) (string, error) {
			spanPath := filepath.Join(d.WorkDir, tx.ID, g.tag, spanFileName(startMs, endMs))
			if err := os.MkdirAll(filepath.Dir(spanPath), 0o755); err != nil {
				return "", err
			}
			if err := splitter.ExtractRange(monoPath, spanPath, float64(startMs)/1000, float64(endMs)/1000); err != nil {
				return "", err
			}
			return spanPath, nil
		}
		embed := func(path string) ([]float32, error) {
			var vec []float32
			embedErr := retry.Do(ctx, d.Settings.Embedder.Retry, func(callCtx context.Context) error {
				out, eerr := d.Embed.Embed(callCtx, path)
				if eerr != nil {
					return errors.Transient(eerr, errors.CategoryEmbedder)
				}
				vec = out
				return nil
			})
			return vec, embedErr
		}
		vec, _, ok := speakerReferenceEmbedding(d.Settings, g, extractSpan, embed)
		if ok {
			speakerEmbeddings[g.tag] = vec
		}
	}
	if len(speakerEmbeddings) == 0 {
		return fail("no speaker reference embedding could be built")
	}

	d.enter(tx.ID, StateMatching)
	results := matchSpeakers(d.Settings, speakerEmbeddings, refSet)
	winner, found := bestMatch(results)
	if !found {
		return skip("no speaker matched above threshold")
	}
	workerID, bound := refSet.WorkerIDs[winner.label]
	if !bound {
		return skip("matched label has no bound worker")
	}

	d.enter(tx.ID, StateWriting)
	if err := d.Database.AssignTransactionWorker(ctx, tx.ID, workerID, winner.confidence, "voice"); err != nil {
		return fail("write: " + err.Error())
	}

	return Outcome{TransactionID: tx.ID, FinalState: StateDone, WorkerID: workerID, Confidence: winner.confidence}
}

func spanFileName(startMs, endMs int64) string {
	return "span_" + strconv.FormatInt(startMs, 10) + "_" + strconv.FormatInt(endMs, 10) + ".wav"
}
