package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DialectSQLite, settings.Database.Dialect)
	assert.Equal(t, 1200.0, settings.Splitter.TargetChunkSec)
	assert.Equal(t, 5.0, settings.Splitter.OverlapSec)
	assert.Equal(t, 7.0, settings.Splitter.SilenceWindowSec)
	assert.InDelta(t, 0.2, settings.Voice.MatchThreshold, 0.0001)
	assert.Equal(t, 5, settings.Orchestrator.ChunkParallelism)
	assert.Equal(t, 5, settings.Orchestrator.GradeParallelism)
	assert.Equal(t, 5, settings.Orchestrator.VoiceParallelism)
	assert.Equal(t, 2*time.Second, settings.Reasoner.Retry.BaseDelay)
	assert.Equal(t, 15*time.Second, settings.ASR.Retry.MaxDelay)
	assert.Equal(t, 21600, settings.Orchestrator.MaxJobDurationSec)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOPTIX_DATABASE_DSN", "override.db")
	t.Setenv("HOPTIX_CHUNK_PARALLELISM", "9")

	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "override.db", settings.Database.DSN)
	assert.Equal(t, 9, settings.Orchestrator.ChunkParallelism)
}

func TestValidateRejectsBadValues(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	settings.Voice.MatchThreshold = 1.5
	settings.Orchestrator.ChunkParallelism = 0

	err = settings.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice.matchthreshold")
	assert.Contains(t, err.Error(), "chunkparallelism")
}
