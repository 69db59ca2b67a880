package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hoptix/pipeline/internal/errors"
)

// MemoryStore is an in-memory Database, used by component tests that
// need a Database without a real SQLite/MySQL server.
type MemoryStore struct {
	mu sync.Mutex

	Locations    map[ID]*Location
	Items        map[ID]*MenuItem
	Meals        map[ID]*MenuMeal
	AddOns       map[ID]*MenuAddOn
	Workers      map[ID]*Worker
	Runs         map[ID]*Run
	Recordings   map[ID]*Recording
	Transactions map[ID]*Transaction
	Grades       map[ID]*Grade // keyed by transaction_id
	VoiceSamples map[ID]*VoiceSample
	RunAnalytics map[ID]*RunAnalytics
	RunWorkerAnalytics map[string]*RunAnalyticsWorker // keyed by run_id+"/"+worker_id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Locations:          make(map[ID]*Location),
		Items:              make(map[ID]*MenuItem),
		Meals:              make(map[ID]*MenuMeal),
		AddOns:             make(map[ID]*MenuAddOn),
		Workers:            make(map[ID]*Worker),
		Runs:               make(map[ID]*Run),
		Recordings:         make(map[ID]*Recording),
		Transactions:       make(map[ID]*Transaction),
		Grades:             make(map[ID]*Grade),
		VoiceSamples:       make(map[ID]*VoiceSample),
		RunAnalytics:       make(map[ID]*RunAnalytics),
		RunWorkerAnalytics: make(map[string]*RunAnalyticsWorker),
	}
}

func (m *MemoryStore) Open(ctx context.Context) error  { return nil }
func (m *MemoryStore) Close() error                    { return nil }

func (m *MemoryStore) GetLocation(ctx context.Context, locationID ID) (*Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.Locations[locationID]
	if !ok {
		return nil, errors.New(errors.NewStd("location not found")).Category(errors.CategoryNotFound).Build()
	}
	cp := *loc
	return &cp, nil
}

func (m *MemoryStore) GetMenu(ctx context.Context, locationID ID) ([]MenuItem, []MenuMeal, []MenuAddOn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []MenuItem
	var meals []MenuMeal
	var addOns []MenuAddOn
	for _, i := range m.Items {
		if i.LocationID == locationID {
			items = append(items, *i)
		}
	}
	for _, me := range m.Meals {
		if me.LocationID == locationID {
			meals = append(meals, *me)
		}
	}
	for _, a := range m.AddOns {
		if a.LocationID == locationID {
			addOns = append(addOns, *a)
		}
	}
	return items, meals, addOns, nil
}

func (m *MemoryStore) ListWorkers(ctx context.Context, locationID ID) ([]Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var workers []Worker
	for _, w := range m.Workers {
		if w.LocationID == locationID {
			workers = append(workers, *w)
		}
	}
	return workers, nil
}

func (m *MemoryStore) UpsertRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.Runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRunByLocationDate(ctx context.Context, locationID ID, runDate string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Runs {
		if r.LocationID == locationID && r.RunDate == runDate {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errors.New(errors.NewStd("run not found")).Category(errors.CategoryNotFound).Build()
}

func (m *MemoryStore) GetRun(ctx context.Context, runID ID) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Runs[runID]
	if !ok {
		return nil, errors.New(errors.NewStd("run not found")).Category(errors.CategoryNotFound).Build()
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRunStatus(ctx context.Context, runID ID, status string, diagnostics string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Runs[runID]
	if !ok {
		return errors.New(errors.NewStd("run not found")).Category(errors.CategoryNotFound).Build()
	}
	r.Status = status
	r.Diagnostics = diagnostics
	return nil
}

func (m *MemoryStore) UpsertRecording(ctx context.Context, rec *Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.Recordings[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) ListRecordingsByRun(ctx context.Context, runID ID) ([]Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recording
	for _, r := range m.Recordings {
		if r.RunID == runID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertTransaction(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tx
	m.Transactions[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) ListTransactionsByRun(ctx context.Context, runID ID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.Transactions {
		if t.RunID == runID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) AssignTransactionWorker(ctx context.Context, transactionID ID, workerID ID, confidence float64, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Transactions[transactionID]
	if !ok {
		return errors.New(errors.NewStd("transaction not found")).Category(errors.CategoryNotFound).Build()
	}
	wid := workerID
	t.WorkerID = &wid
	t.WorkerConfidence = &confidence
	t.WorkerAssignmentSource = source
	now := time.Now()
	t.VoiceProcessedAt = &now
	return nil
}

// MarkVoiceProcessed stamps voice_processed_at without touching the
// worker assignment, for the skip/no-match outcomes of Phase 2 voice
// diarization (spec.md §4.5 Phase 2 step 7).
func (m *MemoryStore) MarkVoiceProcessed(ctx context.Context, transactionID ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Transactions[transactionID]
	if !ok {
		return errors.New(errors.NewStd("transaction not found")).Category(errors.CategoryNotFound).Build()
	}
	now := time.Now()
	t.VoiceProcessedAt = &now
	return nil
}

func (m *MemoryStore) UpsertGrade(ctx context.Context, grade *Grade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *grade
	m.Grades[grade.TransactionID] = &cp
	return nil
}

func (m *MemoryStore) ListGradesByRun(ctx context.Context, runID ID) ([]Grade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Grade
	for _, t := range m.Transactions {
		if t.RunID != runID {
			continue
		}
		if g, ok := m.Grades[t.ID]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertVoiceSample(ctx context.Context, sample *VoiceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sample
	m.VoiceSamples[sample.ID] = &cp
	return nil
}

func (m *MemoryStore) ListVoiceSamples(ctx context.Context, locationID ID) ([]VoiceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VoiceSample
	for _, v := range m.VoiceSamples {
		if v.LocationID == locationID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertRunAnalytics(ctx context.Context, a *RunAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.RunAnalytics[a.RunID] = &cp
	return nil
}

func (m *MemoryStore) UpsertRunAnalyticsWorker(ctx context.Context, a *RunAnalyticsWorker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.RunWorkerAnalytics[a.RunID+"/"+a.WorkerID] = &cp
	return nil
}

var _ Database = (*MemoryStore)(nil)
