// Package datastore implements the Database capability (spec.md §6.3)
// over GORM, plus the row types for every entity in spec.md §3.
package datastore

import "time"

// ID is an opaque 128-bit identifier, stored as its canonical string
// form (spec.md §3: "All identifiers are opaque 128-bit values").
type ID = string

// Organization is the root of multi-tenancy (spec.md §3).
type Organization struct {
	ID   ID     `gorm:"primaryKey;size:36"`
	Name string `gorm:"size:200;not null"`
}

// Location owns its menu and runs (spec.md §3).
type Location struct {
	ID       ID     `gorm:"primaryKey;size:36"`
	OrgID    ID     `gorm:"index;size:36;not null"`
	Name     string `gorm:"size:200;not null"`
	Timezone string `gorm:"size:64;not null"`
}

// MenuItem is an Item in the Location's menu (spec.md §3 "Item").
// SizeIDs/Prices are stored JSON-encoded via PricesJSON/SizeIDsJSON.
type MenuItem struct {
	ID             ID     `gorm:"primaryKey;size:36"`
	LocationID     ID     `gorm:"index;size:36;not null"`
	ItemID         string `gorm:"size:64;not null"` // canonical item_id used in "<item_id>_<size_code>"
	Name           string `gorm:"size:200;not null"`
	SizeIDsJSON    string `gorm:"type:text"` // JSON []int
	PricesJSON     string `gorm:"type:text"` // JSON map[int]float64, size_code -> amount
	UpsellEligible bool
	UpsizeEligible bool
	AddOnEligible  bool
}

// MenuMeal is a Meal in the Location's menu (spec.md §3 "Meal").
type MenuMeal struct {
	ID                ID     `gorm:"primaryKey;size:36"`
	LocationID        ID     `gorm:"index;size:36;not null"`
	ItemID            string `gorm:"size:64;not null"`
	Name              string `gorm:"size:200;not null"`
	InclusionsJSON    string `gorm:"type:text"` // JSON []string
	SizeIDsJSON       string `gorm:"type:text"`
	PricesJSON        string `gorm:"type:text"`
	UpsellEligible    bool
	UpsizeEligible    bool
	AddOnEligible     bool
}

// MenuAddOn is an AddOn in the Location's menu (spec.md §3 "AddOn").
type MenuAddOn struct {
	ID         ID      `gorm:"primaryKey;size:36"`
	LocationID ID      `gorm:"index;size:36;not null"`
	ItemID     string  `gorm:"size:64;not null"`
	Name       string  `gorm:"size:200;not null"`
	Price      float64 `gorm:"not null"`
}

// Run uniquely identifies one processing session for (location, date)
// (spec.md §3).
type Run struct {
	ID         ID         `gorm:"primaryKey;size:36"`
	OrgID      ID         `gorm:"index;size:36;not null"`
	LocationID ID         `gorm:"index:idx_runs_location_date;size:36;not null"`
	RunDate    string     `gorm:"index:idx_runs_location_date;size:10;not null"` // YYYY-MM-DD
	Status     string     `gorm:"size:20;not null"`
	StartedAt  time.Time  `gorm:"not null"`
	EndedAt    *time.Time
	Diagnostics string    `gorm:"type:text"` // JSON run-diagnostics counters
}

// RecordingMeta holds the chunk-specific fields carried in Recording.meta
// (spec.md §3).
type RecordingMeta struct {
	IsChunk       bool    `json:"is_chunk"`
	OriginalID    ID      `json:"original_id,omitempty"`
	ChunkIndex    int     `json:"chunk_index,omitempty"`
	ChunkStartSec float64 `json:"chunk_start_sec,omitempty"`
	ChunkEndSec   float64 `json:"chunk_end_sec,omitempty"`
	OverlapSec    float64 `json:"overlap_sec,omitempty"`
}

// Recording is input media; a chunk is another Recording row
// (spec.md §3).
type Recording struct {
	ID        ID        `gorm:"primaryKey;size:36"`
	RunID     ID        `gorm:"index;size:36;not null"`
	LocationID ID       `gorm:"index;size:36;not null"`
	StartedAt time.Time `gorm:"not null"`
	EndedAt   time.Time `gorm:"not null"`
	ObjectKey string    `gorm:"size:500"`
	Link      string    `gorm:"size:500"`
	Status    string    `gorm:"size:20"`
	MetaJSON  string    `gorm:"type:text"` // JSON-encoded RecordingMeta
}

// TransactionKind enumerates spec.md §3's Transaction.kind values.
const TransactionKindOrder = "order"

// Transaction is one customer interaction (spec.md §3).
type Transaction struct {
	ID                     ID        `gorm:"primaryKey;size:36"`
	RunID                  ID        `gorm:"index:idx_transactions_run_id;size:36;not null"`
	RecordingID            ID        `gorm:"index;size:36;not null"`
	StartedAt              time.Time `gorm:"not null"`
	EndedAt                time.Time `gorm:"not null"`
	Kind                   string    `gorm:"size:20;not null"`
	MetaJSON               string    `gorm:"type:text"`
	ClipRef                string    `gorm:"size:500"`
	WorkerID               *ID       `gorm:"size:36"`
	WorkerConfidence       *float64
	WorkerAssignmentSource string `gorm:"size:20"`
	VoiceProcessedAt       *time.Time
}

// MenuRefList is a []string of "<item_id>_<size_code>" references,
// JSON-encoded for storage on Grade.
type MenuRefList []string

// CategoryFunnel holds the three funnel counters plus item lists for
// one of upsell/upsize/addon (spec.md §3 Grade).
type CategoryFunnel struct {
	NumOpportunities int         `json:"num_opportunities"`
	NumOffers        int         `json:"num_offers"`
	NumSuccesses     int         `json:"num_successes"`
	CandidateItems   MenuRefList `json:"candidate_items"`
	BaseItems        MenuRefList `json:"base_items"`
	OfferedItems     MenuRefList `json:"offered_items"`
	SuccessItems     MenuRefList `json:"success_items"`
	BaseSoldItems    MenuRefList `json:"base_sold_items"`
}

// Grade is one per transaction, keyed by transaction_id (spec.md §3).
type Grade struct {
	ID                ID          `gorm:"primaryKey;size:36"`
	TransactionID     ID          `gorm:"uniqueIndex;size:36;not null"`
	Transcript        string      `gorm:"type:text"`
	Score             float64
	CompleteOrder     bool
	MobileOrder       bool
	CouponUsed        bool
	AskedMoreTime     bool
	OutOfStockItems   string      `gorm:"type:text"`
	ItemsInitialJSON  string      `gorm:"type:text"` // MenuRefList
	NumItemsInitial   int
	ItemsAfterJSON    string      `gorm:"type:text"` // MenuRefList
	NumItemsAfter     int
	UpsellJSON        string      `gorm:"type:text"` // CategoryFunnel
	UpsizeJSON        string      `gorm:"type:text"` // CategoryFunnel
	AddOnJSON         string      `gorm:"type:text"` // CategoryFunnel
	NumLargestOffers  int
	Feedback          string      `gorm:"type:text"`
	Issues            string      `gorm:"type:text"` // JSON []string, sanity-check violations
	ReasoningSummary  string      `gorm:"type:text"`
	GPTPrice          float64
	DetailsJSON       string      `gorm:"type:text"` // unknown/forensic fields preserved verbatim
}

// Worker is a drive-thru employee whose voice may be matched to
// transactions (spec.md §3).
type Worker struct {
	ID              ID     `gorm:"primaryKey;size:36"`
	LocationID      ID     `gorm:"index;size:36;not null"`
	LegalName       string `gorm:"size:200;not null"`
	DisplayName     string `gorm:"size:200"`
	MonthlyFeedback string `gorm:"type:text"`
}

// VoiceSample is reference audio for a worker, identified by
// (FileShare folder, filename) (spec.md §3). Not authoritative state.
// The Database can store these rows, but the reference-set build
// neither reads nor writes them: every run embeds each sample anew
// from the FileShare listing.
type VoiceSample struct {
	ID         ID     `gorm:"primaryKey;size:36"`
	LocationID ID     `gorm:"index;size:36;not null"`
	Folder     string `gorm:"size:200;not null"`
	FileName   string `gorm:"size:200;not null"`
	Label      string `gorm:"size:200;not null"`
	WorkerID   *ID    `gorm:"size:36"`
	EmbeddingJSON string `gorm:"type:text"` // JSON []float32
}

// RunAnalytics is the store-level denormalized rollup keyed by run_id
// (spec.md §3).
type RunAnalytics struct {
	ID      ID     `gorm:"primaryKey;size:36"`
	RunID   ID     `gorm:"uniqueIndex;size:36;not null"`
	DataJSON string `gorm:"type:text"` // JSON analytics.StoreReport
}

// RunAnalyticsWorker is the per-operator rollup keyed by (run_id,
// worker_id) (spec.md §3).
type RunAnalyticsWorker struct {
	ID       ID     `gorm:"primaryKey;size:36"`
	RunID    ID     `gorm:"uniqueIndex:idx_run_worker;size:36;not null"`
	WorkerID ID     `gorm:"uniqueIndex:idx_run_worker;size:36;not null"`
	DataJSON string `gorm:"type:text"` // JSON analytics.OperatorReport
}
