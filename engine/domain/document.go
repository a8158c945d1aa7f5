package domain

import "time"

// Document is a single ingested source: a crawled page or a directly
// submitted piece of text.
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SourceURL    string    `json:"source_url,omitempty"`
	ContentHash  string    `json:"content_hash"`
	MIMEType     string    `json:"mime_type"`
	BlobLocation string    `json:"blob_location"`
	Stage        Stage     `json:"stage"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ChunkCount   int       `json:"chunk_count"`
	// ConfidenceScore is set by Resolve phase F; zero until then.
	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Chunk is an indexed, immutable substring of a document.
type Chunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Index       int       `json:"index"`
	Text        string    `json:"text"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	TokenCount  int       `json:"token_count"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChunkEvaluation is one-to-one with a Chunk: the Evaluate stage's verdict.
type ChunkEvaluation struct {
	ChunkID       string           `json:"chunk_id"`
	TrustScore    float64          `json:"trust_score"`
	RelevanceScore float64         `json:"relevance_score"`
	Domain        AutomotiveDomain `json:"automotive_domain"`
	Reasoning     string           `json:"reasoning"`
	ModelID       string           `json:"model_id"`
	EvaluatedAt   time.Time        `json:"evaluated_at"`
}

// EvaluationJSON is the wire contract the reasoning client must produce for
// the Evaluate stage. Field names are part of the external interface.
type EvaluationJSON struct {
	TrustScore       float64 `json:"trust_score"`
	RelevanceScore   float64 `json:"relevance_score"`
	AutomotiveDomain string  `json:"automotive_domain"`
	Reasoning        string  `json:"reasoning"`
}

// DTCCodeEntry is one element of an Extraction's dtc_codes array.
type DTCCodeEntry struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
}

// CauseEntry is one element of an Extraction's causes array.
type CauseEntry struct {
	DTCCode     string     `json:"dtc_code"`
	Description string     `json:"description"`
	Likelihood  Likelihood `json:"likelihood"`
}

// DiagnosticStepEntry is one element of an Extraction's diagnostic_steps array.
type DiagnosticStepEntry struct {
	DTCCode        string `json:"dtc_code"`
	StepOrder      int    `json:"step_order"`
	Description    string `json:"description"`
	ToolsRequired  string `json:"tools_required,omitempty"`
	ExpectedValues string `json:"expected_values,omitempty"`
}

// SensorEntry is one element of an Extraction's sensors array.
type SensorEntry struct {
	Name              string   `json:"name"`
	SensorType        string   `json:"sensor_type"`
	TypicalRange      string   `json:"typical_range,omitempty"`
	Unit              string   `json:"unit,omitempty"`
	RelatedDTCCodes   []string `json:"related_dtc_codes,omitempty"`
}

// TSBReferenceEntry is one element of an Extraction's tsb_references array.
type TSBReferenceEntry struct {
	TSBNumber       string   `json:"tsb_number"`
	Title           string   `json:"title"`
	AffectedModels  string   `json:"affected_models,omitempty"`
	RelatedDTCCodes []string `json:"related_dtc_codes,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// VehicleMentionEntry is one element of an Extraction's vehicles_mentioned array.
type VehicleMentionEntry struct {
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	YearStart       int      `json:"year_start,omitempty"`
	YearEnd         int      `json:"year_end,omitempty"`
	Engine          string   `json:"engine,omitempty"`
	Transmission    string   `json:"transmission,omitempty"`
	RelatedDTCCodes []string `json:"related_dtc_codes,omitempty"`
}

// ExtractionJSON is the wire contract the reasoning client must produce for
// the Extract stage.
type ExtractionJSON struct {
	DTCCodes           []DTCCodeEntry        `json:"dtc_codes"`
	Causes             []CauseEntry          `json:"causes"`
	DiagnosticSteps    []DiagnosticStepEntry `json:"diagnostic_steps"`
	Sensors            []SensorEntry         `json:"sensors"`
	TSBReferences      []TSBReferenceEntry   `json:"tsb_references"`
	VehiclesMentioned  []VehicleMentionEntry `json:"vehicles_mentioned"`
	DocumentCategory   string                `json:"document_category"`
}

// Extraction is the per-document structured output staged for Resolve. Each
// field carries the originating chunk ID and that chunk's trust/relevance so
// Resolve's Phase B aggregation has evidence to work from.
type Extraction struct {
	DocumentID string
	ChunkID    string
	Trust      float64
	Relevance  float64
	Payload    ExtractionJSON
}

// CrawlRequest is a unit of crawl work: a URL to fetch, possibly discovered
// from another page.
type CrawlRequest struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Status    string    `json:"status"` // pending | active | completed | failed
	Depth     int       `json:"depth"`
	MaxDepth  int       `json:"max_depth"`
	ParentURL string    `json:"parent_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	CrawlStatusPending   = "pending"
	CrawlStatusActive    = "active"
	CrawlStatusCompleted = "completed"
	CrawlStatusFailed    = "failed"
)

// EntitySource is an append-only provenance link from a knowledge-graph row
// back to the chunk that produced it.
type EntitySource struct {
	ID          string    `json:"id"`
	EntityTable string    `json:"entity_table"`
	EntityID    string    `json:"entity_id"`
	ChunkID     string    `json:"chunk_id"`
	Trust       float64   `json:"trust"`
	Relevance   float64   `json:"relevance"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ResolutionAction is the closed set of actions a ResolutionLogEntry records.
type ResolutionAction string

const (
	ActionCreated  ResolutionAction = "created"
	ActionUpdated  ResolutionAction = "updated"
	ActionMerged   ResolutionAction = "merged"
	ActionRejected ResolutionAction = "rejected"
)

// ResolutionLogEntry is one append-only row per action taken during a
// Resolve run, grouped by RunID.
type ResolutionLogEntry struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	DocumentID string          `json:"document_id"`
	Action    ResolutionAction `json:"action"`
	EntityTable string         `json:"entity_table,omitempty"`
	EntityID  string           `json:"entity_id,omitempty"`
	Details   string           `json:"details,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ProcessingLogStatus is the closed set of statuses a ProcessingLogEntry records.
type ProcessingLogStatus string

const (
	ProcessingStarted   ProcessingLogStatus = "started"
	ProcessingCompleted ProcessingLogStatus = "completed"
	ProcessingError     ProcessingLogStatus = "error"
)

// ProcessingLogEntry is one append-only row per stage attempt per document.
type ProcessingLogEntry struct {
	ID         string               `json:"id"`
	DocumentID string               `json:"document_id"`
	Stage      Stage                `json:"stage"`
	Status     ProcessingLogStatus  `json:"status"`
	Message    string               `json:"message,omitempty"`
	DurationMS int64                `json:"duration_ms"`
	CreatedAt  time.Time            `json:"created_at"`
}
