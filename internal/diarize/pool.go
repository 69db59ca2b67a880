package diarize

import (
	"context"

	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/fileshare"
	"golang.org/x/sync/errgroup"
)

// ClipJob is one transaction awaiting voice processing.
type ClipJob struct {
	Transaction datastore.Transaction
	Grade       *datastore.Grade
	Clip        fileshare.Ref
}

// ProcessBatch runs ProcessClip over every job with bounded
// concurrency (spec.md §4.5 "VoiceParallelWorkers concurrent clip
// workers", default 5), sharing one ReferenceSet read-only across
// workers.
func (d *Diarizer) ProcessBatch(ctx context.Context, jobs []ClipJob, refSet ReferenceSet) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	group, groupCtx := errgroup.WithContext(ctx)
	limit := d.Settings.Voice.VoiceParallelWorkers
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	for i, job := range jobs {
		i, job := i, job
		group.Go(func() error {
			outcomes[i] = d.ProcessClip(groupCtx, job.Transaction, job.Grade, job.Clip, refSet)
			return nil // a single clip's failure is recorded in its Outcome, not a batch abort
		})
	}
	_ = group.Wait()
	return outcomes
}
