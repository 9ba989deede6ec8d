package tasks

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is one requested media download. Progress is a percentage in [0,100];
// sizes and speed are bytes / bytes-per-second.
type Task struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Title          string            `json:"title,omitempty"`
	OutputPath     string            `json:"output_path,omitempty"`
	Status         Status            `json:"status"`
	Progress       float64           `json:"progress"`
	DownloadedSize int64             `json:"downloaded_size"`
	FileSize       int64             `json:"file_size"`
	Speed          int64             `json:"speed"`
	Error          string            `json:"error,omitempty"`
	Source         map[string]string `json:"source_metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (t Task) Clone() Task {
	out := t
	if t.Source != nil {
		out.Source = make(map[string]string, len(t.Source))
		for k, v := range t.Source {
			out.Source[k] = v
		}
	}
	return out
}

// Terminal reports whether no further admission is possible without explicit
// user action. Failed is deliberately not terminal: retry re-admits it.
func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Eligible reports whether the task may be selected for admission.
func (t Task) Eligible() bool {
	switch t.Status {
	case StatusPending, StatusPaused, StatusFailed:
		return true
	default:
		return false
	}
}

// Stats are derived counters, always recomputed from the store.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Active          int   `json:"active"`
	Paused          int   `json:"paused"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Cancelled       int   `json:"cancelled"`
	AverageSpeed    int64 `json:"average_speed"`
	TotalDownloaded int64 `json:"total_downloaded"`
}
