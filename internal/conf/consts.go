package conf

// Database dialect constants.
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

// Size codes used in menu references ("<item_id>_<size_code>").
const (
	SizeNone   = 0
	SizeSmall  = 1
	SizeMedium = 2
	SizeLarge  = 3
)

// Run statuses (spec.md §3).
const (
	RunStatusUploading  = "uploading"
	RunStatusProcessing = "processing"
	RunStatusComplete   = "complete"
	RunStatusFailed     = "failed"
)

// Worker assignment sources (spec.md §3).
const (
	AssignmentSourceVoice      = "voice"
	AssignmentSourceUnassigned = "unassigned"
)

// EnvPrefix is the environment-variable prefix for settings overrides.
const EnvPrefix = "HOPTIX"
