package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hoptix/pipeline/internal/analytics"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/menu"
)

// Finalize implements spec.md §4.6 finalize: compute store- and
// operator-level analytics over every Grade the run produced and
// settle the Run's terminal status. It always runs, and always
// updates status, even when processErr is non-nil (spec.md §7
// "task-level failures do not abort" — analytics still reflect
// whatever Grades exist).
func (o *Orchestrator) Finalize(ctx context.Context, runID string, processErr error) error {
	run, err := o.Database.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	grades, err := o.Database.ListGradesByRun(ctx, runID)
	if err != nil {
		return err
	}
	transactions, err := o.Database.ListTransactionsByRun(ctx, runID)
	if err != nil {
		return err
	}
	workers, err := o.Database.ListWorkers(ctx, run.LocationID)
	if err != nil {
		return err
	}
	items, meals, addOns, err := o.Database.GetMenu(ctx, run.LocationID)
	if err != nil {
		return err
	}
	prices := menu.PriceLookup(items, meals, addOns)

	storeReport := analytics.BuildStoreReport(runID, grades, transactions, prices)
	storeData, _ := json.Marshal(storeReport)
	if err := o.Database.UpsertRunAnalytics(ctx, &datastore.RunAnalytics{
		ID:       datastore.NewID(),
		RunID:    runID,
		DataJSON: string(storeData),
	}); err != nil {
		return err
	}

	operatorReports := analytics.BuildOperatorReports(runID, grades, transactions, workers, prices)
	for _, report := range operatorReports {
		data, _ := json.Marshal(report)
		if err := o.Database.UpsertRunAnalyticsWorker(ctx, &datastore.RunAnalyticsWorker{
			ID:       datastore.NewID(),
			RunID:    runID,
			WorkerID: report.WorkerID,
			DataJSON: string(data),
		}); err != nil {
			return err
		}
	}

	status := "complete"
	diag := &Diagnostics{}
	_ = json.Unmarshal([]byte(run.Diagnostics), diag)
	if processErr != nil {
		status = "failed"
		diag.Error = processErr.Error()
	}

	if err := o.Database.UpdateRunStatus(ctx, runID, status, diag.marshal()); err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	return nil
}
