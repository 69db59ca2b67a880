// Package fileshare defines the FileShare capability (spec.md §6.2):
// list/download/upload files in logical folders, returning a stable
// reference. Clip folders are named Clips_<MM-DD>; voice sample
// folders follow the four patterns in spec.md §4.5 Phase 1.
package fileshare

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hoptix/pipeline/internal/errors"
)

// FileInfo describes one entry returned by ListFolder.
type FileInfo struct {
	ID   string
	Name string
	Size int64
	Mime string
}

// Ref is a stable reference to an uploaded file (spec.md's clip_ref).
type Ref struct {
	ID   string
	Link string
}

// FileShare is the folder+name file capability the core depends on.
type FileShare interface {
	ListFolder(ctx context.Context, folderName string) ([]FileInfo, error)
	Download(ctx context.Context, id string, localPath string) error
	Upload(ctx context.Context, localPath, folderName, fileName string) (Ref, error)
}

// ClipFolder returns the Clips_<MM-DD> folder name for a run date
// (spec.md §4.1, §6.2).
func ClipFolder(runDate string) string {
	mmdd := runDate
	if len(runDate) == 10 { // "YYYY-MM-DD"
		mmdd = runDate[5:7] + "-" + runDate[8:10]
	}
	return "Clips_" + mmdd
}

// VoiceSampleFolderCandidates returns the four naming patterns spec.md
// §4.5 Phase 1 step 1 requires trying, in order, for a location name.
func VoiceSampleFolderCandidates(locationName string) []string {
	return []string{
		locationName + " Voice Samples",
		locationName + "_Voice_Samples",
		locationName + " Voices",
		"Voice Samples " + locationName,
	}
}

// MatchesVoiceSampleFolder applies the fallback prefix/contains rule:
// folder name contains the location name AND "voice" AND "sample"
// (case-insensitive), used when none of the four canonical patterns
// are present in the share.
func MatchesVoiceSampleFolder(folderName, locationName string) bool {
	lower := strings.ToLower(folderName)
	return strings.Contains(lower, strings.ToLower(locationName)) &&
		strings.Contains(lower, "voice") &&
		strings.Contains(lower, "sample")
}

// LocalShare is a filesystem-backed FileShare, standing in for the
// out-of-scope cloud file-share wire protocol (spec.md §1).
type LocalShare struct {
	Root string
}

func NewLocalShare(root string) *LocalShare {
	return &LocalShare{Root: root}
}

func (s *LocalShare) folderPath(folderName string) string {
	return filepath.Join(s.Root, folderName)
}

func (s *LocalShare) ListFolder(ctx context.Context, folderName string) ([]FileInfo, error) {
	dir := s.folderPath(folderName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).Category(errors.CategoryFileShare).Kind(errors.KindTransientExternal).
			Context("folder", folderName).Build()
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			ID:   filepath.Join(folderName, e.Name()),
			Name: e.Name(),
			Size: info.Size(),
			Mime: mimeFromExt(e.Name()),
		})
	}
	return files, nil
}

func (s *LocalShare) Download(ctx context.Context, id string, localPath string) error {
	src, err := os.Open(filepath.Join(s.Root, id))
	if err != nil {
		return errors.New(err).Category(errors.CategoryFileShare).Kind(errors.KindTransientExternal).
			Context("id", id).Build()
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryFileShare).Build()
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return errors.New(err).Category(errors.CategoryFileShare).Build()
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.New(err).Category(errors.CategoryFileShare).Kind(errors.KindTransientExternal).Build()
	}
	return nil
}

func (s *LocalShare) Upload(ctx context.Context, localPath, folderName, fileName string) (Ref, error) {
	dir := s.folderPath(folderName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, errors.New(err).Category(errors.CategoryFileShare).Build()
	}
	dest := filepath.Join(dir, fileName)

	src, err := os.Open(localPath)
	if err != nil {
		return Ref{}, errors.New(err).Category(errors.CategoryFileShare).Build()
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return Ref{}, errors.New(err).Category(errors.CategoryFileShare).Build()
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return Ref{}, errors.New(err).Category(errors.CategoryFileShare).Kind(errors.KindTransientExternal).Build()
	}

	id := filepath.Join(folderName, fileName)
	return Ref{ID: id, Link: fmt.Sprintf("file://%s", dest)}, nil
}

func mimeFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
