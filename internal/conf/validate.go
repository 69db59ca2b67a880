package conf

import (
	"github.com/hoptix/pipeline/internal/errors"
)

// Validate checks internal consistency of the loaded settings,
// returning a single joined error describing every problem found
// (rather than failing on the first one), matching the teacher's
// validate.go accumulation style.
func (s *Settings) Validate() error {
	var errs []error

	if s.Database.Dialect != DialectSQLite && s.Database.Dialect != DialectMySQL {
		errs = append(errs, errors.ValidationError("database.dialect must be sqlite or mysql"))
	}
	if s.Database.DSN == "" {
		errs = append(errs, errors.ValidationError("database.dsn must not be empty"))
	}

	if s.Splitter.TargetChunkSec <= 0 {
		errs = append(errs, errors.ValidationError("splitter.targetchunksec must be positive"))
	}
	if s.Splitter.OverlapSec < 0 {
		errs = append(errs, errors.ValidationError("splitter.overlapsec must not be negative"))
	}
	if s.Splitter.SilenceWindowSec <= 0 {
		errs = append(errs, errors.ValidationError("splitter.silencewindowsec must be positive"))
	}

	if s.Voice.MatchThreshold < 0 || s.Voice.MatchThreshold > 1 {
		errs = append(errs, errors.ValidationError("voice.matchthreshold must be within [0,1]"))
	}
	if s.Voice.VoiceParallelWorkers <= 0 {
		errs = append(errs, errors.ValidationError("voice.voiceparallelworkers must be positive"))
	}

	if s.Orchestrator.ChunkParallelism <= 0 {
		errs = append(errs, errors.ValidationError("orchestrator.chunkparallelism must be positive"))
	}
	if s.Orchestrator.GradeParallelism <= 0 {
		errs = append(errs, errors.ValidationError("orchestrator.gradeparallelism must be positive"))
	}
	if s.Orchestrator.VoiceParallelism <= 0 {
		errs = append(errs, errors.ValidationError("orchestrator.voiceparallelism must be positive"))
	}
	if s.Orchestrator.GradeBatches <= 0 {
		errs = append(errs, errors.ValidationError("orchestrator.gradebatches must be positive"))
	}
	if s.Orchestrator.MinCompletedFraction < 0 || s.Orchestrator.MinCompletedFraction > 1 {
		errs = append(errs, errors.ValidationError("orchestrator.mincompletedfraction must be within [0,1]"))
	}
	if s.Orchestrator.MaxJobDurationSec <= 0 {
		errs = append(errs, errors.ValidationError("orchestrator.maxjobdurationsec must be positive"))
	}
	if s.Orchestrator.WorkDir == "" {
		errs = append(errs, errors.ValidationError("orchestrator.workdir must not be empty"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
