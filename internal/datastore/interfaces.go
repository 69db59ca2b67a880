package datastore

import "context"

// Database is the persistence capability the pipeline depends on
// (spec.md §6.3). Upserts are keyed by the row's own ID, except Grade
// (transaction_id), RunAnalytics (run_id) and RunAnalyticsWorker
// (run_id, worker_id), so re-processing a run is idempotent.
// UpdateRunStatus, AssignTransactionWorker and MarkVoiceProcessed
// update an existing row.
type Database interface {
	Open(ctx context.Context) error
	Close() error

	GetLocation(ctx context.Context, locationID ID) (*Location, error)
	GetMenu(ctx context.Context, locationID ID) (items []MenuItem, meals []MenuMeal, addOns []MenuAddOn, err error)
	ListWorkers(ctx context.Context, locationID ID) ([]Worker, error)

	UpsertRun(ctx context.Context, run *Run) error
	GetRunByLocationDate(ctx context.Context, locationID ID, runDate string) (*Run, error)
	GetRun(ctx context.Context, runID ID) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID ID, status string, diagnostics string) error

	UpsertRecording(ctx context.Context, rec *Recording) error
	ListRecordingsByRun(ctx context.Context, runID ID) ([]Recording, error)

	UpsertTransaction(ctx context.Context, tx *Transaction) error
	ListTransactionsByRun(ctx context.Context, runID ID) ([]Transaction, error)
	AssignTransactionWorker(ctx context.Context, transactionID ID, workerID ID, confidence float64, source string) error
	MarkVoiceProcessed(ctx context.Context, transactionID ID) error

	UpsertGrade(ctx context.Context, grade *Grade) error
	ListGradesByRun(ctx context.Context, runID ID) ([]Grade, error)

	UpsertVoiceSample(ctx context.Context, sample *VoiceSample) error
	ListVoiceSamples(ctx context.Context, locationID ID) ([]VoiceSample, error)

	UpsertRunAnalytics(ctx context.Context, a *RunAnalytics) error
	UpsertRunAnalyticsWorker(ctx context.Context, a *RunAnalyticsWorker) error
}
