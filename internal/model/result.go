package model

import "time"

// ContentType tags the payload format of a pipeline item.
type ContentType string

const (
	ContentTypeHTML ContentType = "html"
	ContentTypeJSON ContentType = "json"
)

// ProcessingResult is the per-item outcome of a pipeline invocation.
// Every submitted item produces exactly one result; failures are carried
// in Error rather than aborting the batch.
type ProcessingResult struct {
	IsValid        bool              `json:"is_valid"`
	Record         *PropertyRecord   `json:"record,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`
	Source         string            `json:"source"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Error          string            `json:"error,omitempty"`
	RetryCount     int               `json:"retry_count"`
}

// FieldValidation is the validation outcome for a single field.
type FieldValidation struct {
	Value      any      `json:"value,omitempty"`
	Valid      bool     `json:"valid"`
	Confidence float64  `json:"confidence"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// QualityMetrics is the four-component quality vector attached to every
// validated record. Each component is in [0, 1].
type QualityMetrics struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
	Timeliness   float64 `json:"timeliness"`
}

// ValidationResult aggregates per-field validations, quality scoring, and
// an overall confidence for one record.
type ValidationResult struct {
	IsValid    bool                       `json:"is_valid"`
	Confidence float64                    `json:"confidence"`
	Fields     map[string]FieldValidation `json:"fields"`
	Quality    QualityMetrics             `json:"quality"`
	Errors     []string                   `json:"errors,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
}
