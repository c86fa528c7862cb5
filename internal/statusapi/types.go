package statusapi

import (
	"time"

	"crease/internal/analysis"
	"crease/internal/upload"
)

// Status is the daemon summary served at /api/status.
type Status struct {
	Running      bool        `json:"running"`
	PID          int         `json:"pid"`
	StartedAt    time.Time   `json:"started_at"`
	Lifecycle    string      `json:"lifecycle"`
	BackendURL   string      `json:"backend_url"`
	LoggedIn     bool        `json:"logged_in"`
	Username     string      `json:"username,omitempty"`
	DatabasePath string      `json:"database_path"`
	LockFilePath string      `json:"lock_file_path"`
	Upload       *UploadView `json:"upload,omitempty"`
}

// UploadView describes the tracked upload attempt.
type UploadView struct {
	UploadID       string           `json:"upload_id"`
	JobID          string           `json:"job_id,omitempty"`
	Status         string           `json:"status"`
	VideoName      string           `json:"video_name"`
	PlayerType     string           `json:"player_type"`
	StartTime      time.Time        `json:"start_time"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	Polling        bool             `json:"polling"`
	BytesSent      int64            `json:"bytes_sent"`
	BytesTotal     int64            `json:"bytes_total"`
	Error          string           `json:"error,omitempty"`
	Result         *analysis.Result `json:"result,omitempty"`
}

// LifecycleResponse is returned by POST /api/lifecycle/{state}.
type LifecycleResponse struct {
	State   string `json:"state"`
	Changed bool   `json:"changed"`
}

// CancelResponse is returned by POST /api/upload/cancel.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// NewUploadView converts a coordinator snapshot.
func NewUploadView(snap upload.Snapshot, now time.Time) *UploadView {
	rec := snap.Record
	if rec == nil {
		return nil
	}
	return &UploadView{
		UploadID:       rec.UploadID,
		JobID:          rec.JobID,
		Status:         string(rec.Status),
		VideoName:      rec.Form.VideoName,
		PlayerType:     string(rec.Form.PlayerType),
		StartTime:      rec.StartTime,
		ElapsedSeconds: rec.Elapsed(now).Seconds(),
		Polling:        snap.Polling,
		BytesSent:      snap.BytesSent,
		BytesTotal:     snap.BytesTotal,
		Error:          rec.Error,
		Result:         rec.Result,
	}
}

// Progress returns the fraction of the video sent, between 0 and 1.
func (v *UploadView) Progress() float64 {
	if v == nil || v.BytesTotal <= 0 {
		return 0
	}
	return min(float64(v.BytesSent)/float64(v.BytesTotal), 1)
}
