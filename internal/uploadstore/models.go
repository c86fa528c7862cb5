package uploadstore

import (
	"strings"
	"time"

	"crease/internal/analysis"
)

// Status represents the lifecycle of an upload attempt.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// RecordVersion is written with every row. Bump it when Record's persisted
// shape changes so older rows are refused rather than misread.
const RecordVersion = 1

var allStatuses = []Status{StatusUploading, StatusProcessing, StatusCompleted, StatusFailed}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status ends the attempt.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the persisted state of the current upload attempt.
type Record struct {
	UploadID      string
	JobID         string
	Form          analysis.UploadForm
	StartTime     time.Time
	Status        Status
	Result        *analysis.Result
	Error         string
	SchemaVersion int
	UpdatedAt     time.Time
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Result != nil {
		result := *r.Result
		clone.Result = &result
	}
	return &clone
}

// Elapsed returns the time since the attempt started.
func (r *Record) Elapsed(now time.Time) time.Duration {
	if r == nil || r.StartTime.IsZero() {
		return 0
	}
	return now.Sub(r.StartTime)
}

// PollFilename is the server-side filename used to poll for the result.
func (r *Record) PollFilename() string {
	if r == nil {
		return ""
	}
	return analysis.SecureFilename(r.Form.VideoName)
}

// CachedResult is a finished analysis kept for offline reads.
type CachedResult struct {
	Filename   string
	UploadID   string
	PlayerType analysis.PlayerType
	Result     *analysis.Result
	SavedAt    time.Time
}
