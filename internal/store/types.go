package store

import "time"

// JobStatus is the lifecycle state of a translation job. Only the
// orchestrator moves jobs between states; everything else observes.
type JobStatus string

const (
	JobProcessing      JobStatus = "PROCESSING"
	JobReadyForReview  JobStatus = "READY_FOR_REVIEW"
	JobApproved        JobStatus = "APPROVED"
	JobPauseRequested  JobStatus = "PAUSE_REQUESTED"
	JobPaused          JobStatus = "PAUSED"
	JobCancelRequested JobStatus = "CANCEL_REQUESTED"
	JobCancelled       JobStatus = "CANCELLED"
	JobFailed          JobStatus = "FAILED"
)

// ChunkStatus is the per-chunk translation state.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "PENDING"
	ChunkProcessing ChunkStatus = "PROCESSING"
	ChunkCompleted  ChunkStatus = "COMPLETED"
	ChunkFailed     ChunkStatus = "FAILED"
)

// Job is one document translation request from intake to approval/failure.
type Job struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`

	FileKey  string `json:"file_key"`
	FileName string `json:"file_name"`
	// ContentType is the media type declared at upload, used by format
	// detection when the file name has no usable extension.
	ContentType string `json:"content_type,omitempty"`

	Status    JobStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`

	TotalChunks     int `json:"total_chunks"`
	ProcessedChunks int `json:"processed_chunks"`
	FailedChunks    int `json:"failed_chunks"`
	HealthRetries   int `json:"health_retries"`

	BundleKey    string `json:"bundle_key,omitempty"`
	AssembledKey string `json:"assembled_key,omitempty"`
	ApprovedKey  string `json:"approved_key,omitempty"`

	// HeadHTML is the normalized document head captured at parse time, needed
	// again at assembly.
	HeadHTML string `json:"head_html,omitempty"`

	PausedBy     string `json:"paused_by,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	TranslatedAt *time.Time `json:"translated_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	// CleanedAt marks that cancellation cleanup already ran; a second cleanup
	// pass is a no-op.
	CleanedAt *time.Time `json:"cleaned_at,omitempty"`
}

// Chunk is one structural fragment of the source document, the unit of
// independent machine translation. Order is a dense 0-based sequence defining
// document order.
type Chunk struct {
	JobID   string `json:"job_id"`
	Order   int    `json:"order"`
	ChunkID string `json:"chunk_id"`

	SourceHTML   string `json:"source_html"`
	SourceText   string `json:"source_text"`
	MachineHTML  string `json:"machine_html,omitempty"`
	ReviewerHTML string `json:"reviewer_html,omitempty"`

	Status          ChunkStatus `json:"status"`
	Error           string      `json:"error,omitempty"`
	MachineAttempts int         `json:"machine_attempts"`

	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	LastUpdatedBy string `json:"last_updated_by,omitempty"`

	AnchorIDs []string `json:"anchor_ids,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkPatch updates individual chunk fields; nil fields are left unchanged.
type ChunkPatch struct {
	Status          *ChunkStatus
	Error           *string
	MachineHTML     *string
	ReviewerHTML    *string
	MachineAttempts *int
	Provider        *string
	Model           *string
	LastUpdatedBy   *string
}

// Progress summarizes chunk completion for one job.
type Progress struct {
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	LatestUpdate time.Time `json:"latest_update"`
}

// Asset is a deduplicated embedded binary, content-addressed by the hash of
// its raw bytes. Immutable once stored.
type Asset struct {
	JobID string `json:"job_id"`
	Hash  string `json:"hash"`

	MediaType string `json:"media_type"`
	ByteSize  int64  `json:"byte_size"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`

	AltText      string `json:"alt_text,omitempty"`
	Caption      string `json:"caption,omitempty"`
	KeepOriginal bool   `json:"keep_original"`

	StorageKey string `json:"storage_key"`
	SourceURL  string `json:"source_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Anchor marks one asset's placement inside the flowing text. Neighboring
// text is referenced by content-hash fingerprints of a trimmed window, not
// offsets, so the anchor stays locatable after translation shifts the text.
type Anchor struct {
	JobID    string `json:"job_id"`
	AnchorID string `json:"anchor_id"`

	ChunkID   string `json:"chunk_id"`
	DocOrder  int    `json:"doc_order"`
	AssetHash string `json:"asset_hash"`

	BeforeHash string `json:"before_hash,omitempty"`
	AfterHash  string `json:"after_hash,omitempty"`

	Alignment  string `json:"alignment,omitempty"`
	WidthPx    int    `json:"width_px,omitempty"`
	CaptionRef string `json:"caption_ref,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// JobLogEntry is an append-only operational log line attached to a job.
type JobLogEntry struct {
	ID       int64             `json:"id"`
	JobID    string            `json:"job_id"`
	Category string            `json:"category"`
	Stage    string            `json:"stage"`
	Event    string            `json:"event"`
	Status   string            `json:"status"`
	Message  string            `json:"message,omitempty"`
	Actor    string            `json:"actor,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IngestJob is a single-step ingestion task of the retrieval subsystem. It
// shares the health monitor's staleness policy with translation jobs but has
// no chunk fan-out.
type IngestJob struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	SourceKey string    `json:"source_key"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
