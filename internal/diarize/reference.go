// Package diarize implements the VoiceDiarizer (spec.md §4.5):
// build a per-location reference set of worker voice embeddings, then
// match each transaction clip's diarized speaker tags against it.
package diarize

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/fileshare"
	"golang.org/x/text/cases"
)

// ReferenceSet is the label→embedding and label→worker bindings built
// once per run and shared read-only across clip workers (spec.md §4.5
// Phase 1, "embedding cache ... shared read-only across workers").
type ReferenceSet struct {
	Embeddings map[string][]float32
	WorkerIDs  map[string]string // label -> worker id; absent if unbound
}

// BuildReferenceSet implements spec.md §4.5 Phase 1: find the
// location's voice-sample folder, embed each sample, derive a label
// per file, and bind each label to a Worker by legal_name.
func BuildReferenceSet(ctx context.Context, settings *conf.Settings, share fileshare.FileShare, embedder capability.Embedder, db datastore.Database, location *datastore.Location, workDir string) (ReferenceSet, error) {
	folder, err := findVoiceSampleFolder(ctx, share, location.Name)
	if err != nil {
		return ReferenceSet{}, err
	}
	if folder == "" {
		return ReferenceSet{Embeddings: map[string][]float32{}, WorkerIDs: map[string]string{}}, nil
	}

	files, err := share.ListFolder(ctx, folder)
	if err != nil {
		return ReferenceSet{}, errors.Transient(err, errors.CategoryFileShare)
	}

	workers, err := db.ListWorkers(ctx, location.ID)
	if err != nil {
		return ReferenceSet{}, errors.New(err).Category(errors.CategoryDatabase).Build()
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return ReferenceSet{}, errors.New(err).Category(errors.CategoryDiarization).Build()
	}

	refSet := ReferenceSet{Embeddings: map[string][]float32{}, WorkerIDs: map[string]string{}}
	for _, file := range files {
		label := labelFromFileName(file.Name)
		localPath := filepath.Join(workDir, file.Name)
		if err := share.Download(ctx, file.ID, localPath); err != nil {
			continue // per-sample failure does not abort the reference build
		}
		vec, err := embedder.Embed(ctx, localPath)
		if err != nil {
			continue
		}
		refSet.Embeddings[label] = vec
		if workerID, ok := bindLabelToWorker(label, workers); ok {
			refSet.WorkerIDs[label] = workerID
		}
	}
	return refSet, nil
}

// findVoiceSampleFolder tries the four canonical naming patterns in
// order, returning the first non-empty folder (spec.md §4.5 Phase 1
// step 1). FileShare has no folder-enumeration call, so the
// contains-match fallback the spec allows for arbitrarily-named
// folders cannot be applied here; a FileShare that supports listing
// all folders could add it without changing this function's contract.
func findVoiceSampleFolder(ctx context.Context, share fileshare.FileShare, locationName string) (string, error) {
	for _, candidate := range fileshare.VoiceSampleFolderCandidates(locationName) {
		files, err := share.ListFolder(ctx, candidate)
		if err != nil {
			return "", errors.Transient(err, errors.CategoryFileShare)
		}
		if len(files) > 0 {
			return candidate, nil
		}
	}
	return "", nil
}

// labelFromFileName strips the extension and replaces underscores
// with spaces (spec.md §4.5 Phase 1 step 3).
func labelFromFileName(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return strings.ReplaceAll(base, "_", " ")
}

// foldCase normalizes a name fragment for locale-aware, case-insensitive
// comparison (spec.md §4.5 Phase 1 step 4 fuzzy match).
var foldCase = cases.Fold(cases.Compact)

// bindLabelToWorker matches label against each worker's legal_name:
// exact first, then case-insensitive last-token equality (spec.md
// §4.5 Phase 1 step 4).
func bindLabelToWorker(label string, workers []datastore.Worker) (string, bool) {
	for _, w := range workers {
		if w.LegalName == label {
			return w.ID, true
		}
	}
	labelLast := foldCase.String(lastToken(label))
	for _, w := range workers {
		if foldCase.String(lastToken(w.LegalName)) == labelLast {
			return w.ID, true
		}
	}
	return "", false
}

func lastToken(s string) string {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return s
	}
	return parts[len(parts)-1]
}
