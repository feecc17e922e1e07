package models

// ConvertStatus represents the status of a conversion session.
type ConvertStatus string

const (
	StatusPending    ConvertStatus = "pending"
	StatusConverting ConvertStatus = "converting"
	StatusComplete   ConvertStatus = "completed"
	StatusError      ConvertStatus = "error"
)

// ConvertSession represents one upload-and-convert lifecycle.
type ConvertSession struct {
	ID               string        `json:"session_id"`
	Filename         string        `json:"filename"`
	Status           ConvertStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	OutputFormat     string        `json:"output_format,omitempty"`
	Quality          int           `json:"quality,omitempty"`
	StripMetadata    bool          `json:"strip_exif,omitempty"`
	OutputSize       int64         `json:"outputSize,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	Decoder          string        `json:"decoder,omitempty"` // which stage of the fallback chain succeeded
	Error            string        `json:"error,omitempty"`
}

// NewConvertSession creates a new ConvertSession in pending status.
func NewConvertSession(id, filename string) *ConvertSession {
	return &ConvertSession{
		ID:       id,
		Filename: filename,
		Status:   StatusPending,
		Progress: 0,
	}
}
