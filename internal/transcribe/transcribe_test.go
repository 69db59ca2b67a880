package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/splitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.ASR.Retry = conf.RetryPolicy{MaxRetries: 1, BaseDelay: 0, MaxDelay: 0, CallTimeout: 0}
	return s
}

func TestTranscribeProducesOrderedSegmentsAndKeepsEmptyText(t *testing.T) {
	dir := t.TempDir()
	chunkPath := filepath.Join(dir, "chunk.wav")
	require.NoError(t, os.WriteFile(chunkPath, []byte("pcm"), 0o644))

	spans := []splitter.TimeRange{
		{StartSec: 0, EndSec: 5},
		{StartSec: 5, EndSec: 10},
	}

	asr := &capability.FakeASR{Transcripts: []string{"order one", ""}}
	tr := New(testSettings(), asr)

	extract := func(chunkPath string, r splitter.TimeRange, workDir string) (string, error) {
		p := filepath.Join(workDir, "span.wav")
		require.NoError(t, os.WriteFile(p, []byte("span-pcm"), 0o644))
		return p, nil
	}

	segments, err := tr.Transcribe(context.Background(), chunkPath, spans, extract, dir)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "order one", segments[0].Text)
	assert.Equal(t, "", segments[1].Text)
	assert.Equal(t, 0.0, segments[0].StartSec)
	assert.Equal(t, 10.0, segments[1].EndSec)
}
