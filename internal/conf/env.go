package conf

import (
	"github.com/spf13/viper"
)

// envBinding ties one viper config key to one environment variable.
type envBinding struct {
	ConfigKey string
	EnvVar    string
}

// getEnvBindings lists every setting that may be overridden via
// environment variable, all under the HOPTIX_ prefix (spec.md §9:
// configuration is explicit, never a hidden global — these bindings
// only ever feed the one Settings struct returned by Load).
func getEnvBindings() []envBinding {
	return []envBinding{
		{"database.dialect", "HOPTIX_DATABASE_DIALECT"},
		{"database.dsn", "HOPTIX_DATABASE_DSN"},
		{"blobstore.bucket", "HOPTIX_BLOBSTORE_BUCKET"},
		{"blobstore.rootpath", "HOPTIX_BLOBSTORE_ROOTPATH"},
		{"fileshare.rootpath", "HOPTIX_FILESHARE_ROOTPATH"},
		{"asr.endpoint", "HOPTIX_ASR_ENDPOINT"},
		{"reasoner.endpoint", "HOPTIX_REASONER_ENDPOINT"},
		{"reasoner.model", "HOPTIX_REASONER_MODEL"},
		{"diarizer.endpoint", "HOPTIX_DIARIZER_ENDPOINT"},
		{"embedder.endpoint", "HOPTIX_EMBEDDER_ENDPOINT"},
		{"log.level", "HOPTIX_LOG_LEVEL"},
		{"log.path", "HOPTIX_LOG_PATH"},
		{"orchestrator.chunkparallelism", "HOPTIX_CHUNK_PARALLELISM"},
		{"orchestrator.gradeparallelism", "HOPTIX_GRADE_PARALLELISM"},
		{"orchestrator.voiceparallelism", "HOPTIX_VOICE_PARALLELISM"},
	}
}

// bindEnvVars registers the HOPTIX_* environment overrides on v.
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			return err
		}
	}
	return nil
}
