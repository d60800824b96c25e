package model

import (
	"time"
)

// RunStatus is the orchestrator state of an intent discovery run.
type RunStatus string

const (
	RunStatusIdle            RunStatus = "idle"
	RunStatusNormalizing     RunStatus = "normalizing"
	RunStatusLoadingTaxonomy RunStatus = "loading_taxonomy"
	RunStatusExtracting      RunStatus = "extracting"
	RunStatusAssigning       RunStatus = "assigning"
	RunStatusAnalyzing       RunStatus = "analyzing"
	RunStatusComplete        RunStatus = "complete"
	RunStatusFailed          RunStatus = "failed"
)

// Terminal reports whether no further transition can leave this status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// RunInput describes what a run was asked to process.
type RunInput struct {
	Company          string `json:"company"`
	Description      string `json:"description,omitempty"`
	TranscriptSource string `json:"transcript_source"`
	TaxonomySource   string `json:"taxonomy_source"`
}

// Run is the persisted history record of one discovery run.
type Run struct {
	ID        string     `json:"id"`
	Input     RunInput   `json:"input"`
	Status    RunStatus  `json:"status"`
	Error     string     `json:"error,omitempty"`
	Dir       string     `json:"dir,omitempty"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the stage totals of a finished run.
type RunResult struct {
	Conversations          int           `json:"conversations"`
	Reasons                int           `json:"reasons"`
	ExtractionFailures     int           `json:"extraction_failures"`
	Categorized            int           `json:"categorized"`
	CategorizationFailures int           `json:"categorization_failures"`
	ChunksSkipped          int           `json:"chunks_skipped"`
	Accepted               int           `json:"accepted"`
	UniqueIntents          int           `json:"unique_intents"`
	ThresholdUsed          int           `json:"threshold_used"`
	MappingFile            string        `json:"mapping_file,omitempty"`
	TotalTokens            int           `json:"total_tokens"`
	TotalCost              float64       `json:"total_cost"`
	Phases                 []PhaseResult `json:"phases,omitempty"`
}

// RunPhase represents a stage within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline stage.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult holds the outcome of a pipeline stage.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
