package models

import "time"

// ConversionRecord is one completed conversion, as persisted to history.
type ConversionRecord struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	SourceFormat string    `json:"sourceFormat"`
	OutputFormat string    `json:"outputFormat"`
	InputBytes   int64     `json:"inputBytes"`
	OutputBytes  int64     `json:"outputBytes"`
	DurationMs   int64     `json:"durationMs"`
	Decoder      string    `json:"decoder"`
	CompletedAt  time.Time `json:"completedAt"`
}
