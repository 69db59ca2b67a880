package splitter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/fileshare"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, path string, samples []int, sampleRate int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{Data: samples, Format: &audio.Format{SampleRate: sampleRate, NumChannels: 1}, SourceBitDepth: 16}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Splitter.TargetChunkSec = 1200
	s.Splitter.OverlapSec = 5
	s.Splitter.SilenceWindowSec = 1 // 1s windows to keep fixtures small
	s.Splitter.MaxDurationSec = 0
	s.Splitter.MaxSizeBytes = 0
	return s
}

func TestPlanReturnsSingleChunkWhenUnderLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.wav")
	rate := 8000
	writeTestWAV(t, path, make([]int, rate*2), rate)

	s := New(testSettings(), nil)
	plan, err := s.Plan(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, plan.Chunks, 1)
	assert.Equal(t, 0, plan.Chunks[0].Index)
}

func TestPlanSplitsWhenOverMaxDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.wav")
	rate := 8000
	writeTestWAV(t, path, make([]int, rate*10), rate)

	settings := testSettings()
	settings.Splitter.TargetChunkSec = 4
	settings.Splitter.OverlapSec = 1
	settings.Splitter.MaxDurationSec = 5

	s := New(settings, nil)
	plan, err := s.Plan(context.Background(), path)
	require.NoError(t, err)
	require.Greater(t, len(plan.Chunks), 1)
	assert.Equal(t, 0.0, plan.Chunks[0].StartSec)
	for i := 1; i < len(plan.Chunks); i++ {
		assert.Equal(t, plan.Chunks[i-1].Index+1, plan.Chunks[i].Index)
	}
}

func TestDetectTransactionsFindsActiveSpanBetweenSilence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk.wav")
	rate := 1000 // small rate keeps the fixture tiny; 1s windows == 1000 samples

	var samples []int
	silentWindow := make([]int, rate)
	activeWindow := make([]int, rate)
	for i := range activeWindow {
		activeWindow[i] = 1000
	}
	samples = append(samples, silentWindow...) // window 0: silent
	samples = append(samples, activeWindow...)  // window 1: active -> boundary start
	samples = append(samples, activeWindow...)  // window 2: still active
	samples = append(samples, silentWindow...)  // window 3: silent -> boundary end
	writeTestWAV(t, path, samples, rate)

	settings := testSettings()
	settings.Splitter.SilenceWindowSec = 1

	s := New(settings, nil)
	ranges, err := s.DetectTransactions(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, 1.0, ranges[0].StartSec)
	assert.Equal(t, 3.0, ranges[0].EndSec)
}

func TestDetectTransactionsClosesAtEndOfStreamWhenStillActive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk.wav")
	rate := 1000

	silentWindow := make([]int, rate)
	activeWindow := make([]int, rate)
	for i := range activeWindow {
		activeWindow[i] = 500
	}
	samples := append(append([]int{}, silentWindow...), activeWindow...)
	writeTestWAV(t, path, samples, rate)

	settings := testSettings()
	settings.Splitter.SilenceWindowSec = 1

	s := New(settings, nil)
	ranges, err := s.DetectTransactions(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, 1.0, ranges[0].StartSec)
	assert.Equal(t, 2.0, ranges[0].EndSec)
}

func TestClipUploadsRangesToClipsFolder(t *testing.T) {
	dir := t.TempDir()
	chunkPath := filepath.Join(dir, "chunk.wav")
	rate := 1000
	writeTestWAV(t, chunkPath, make([]int, rate*4), rate)

	share := fileshare.NewLocalShare(t.TempDir())
	s := New(testSettings(), share)

	refs, err := s.Clip(context.Background(), chunkPath,
		[]TimeRange{{StartSec: 0, EndSec: 1}, {StartSec: 1, EndSec: 2}},
		[]string{"tx-a", "tx-b"}, "2026-07-31", t.TempDir())
	require.NoError(t, err)
	require.Len(t, refs, 2)

	files, err := share.ListFolder(context.Background(), "Clips_07-31")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
