package diarize

import (
	"context"
	"testing"

	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/stretchr/testify/assert"
)

func TestProcessBatchSkipsAlreadyAssignedTransactions(t *testing.T) {
	settings := &conf.Settings{}
	settings.Voice.VoiceParallelWorkers = 2
	diarizer := &Diarizer{Settings: settings, Database: datastore.NewMemoryStore()}

	workerA, workerB := "w-a", "w-b"
	jobs := []ClipJob{
		{Transaction: datastore.Transaction{ID: "tx-1", WorkerID: &workerA}},
		{Transaction: datastore.Transaction{ID: "tx-2", WorkerID: &workerB}},
	}

	outcomes := diarizer.ProcessBatch(context.Background(), jobs, ReferenceSet{})
	assert.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, StateSkipped, o.FinalState)
	}
}
