package schemas

import "time"

// -- Task Schemas --

// TaskStatus is the lifecycle state of a background login task.
type TaskStatus string

const (
	TaskWaitingForLogin TaskStatus = "waiting_for_login"
	TaskCompleted       TaskStatus = "completed"
	TaskFailed          TaskStatus = "failed"
	TaskCancelled       TaskStatus = "cancelled"
	TaskTimeout         TaskStatus = "timeout"
)

// Finished reports whether the status is terminal.
func (s TaskStatus) Finished() bool {
	return s != TaskWaitingForLogin
}

// TaskType defines the kind of background work a task tracks.
type TaskType string

const (
	TaskOAuthLogin TaskType = "OAUTH_LOGIN"
)

// Task is a tracked interactive login running in the background.
type Task struct {
	TaskID    string       `json:"task_id"`
	Type      TaskType     `json:"type"`
	Status    TaskStatus   `json:"status"`
	Timeout   int          `json:"timeout"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Deadline  time.Time    `json:"deadline"`
	Result    *LoginResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// LoginResult is the outcome of an interactive login.
type LoginResult struct {
	Status      MonitorStatus `json:"status"`
	Ticks       int           `json:"ticks"`
	LoginMethod LoginMethod   `json:"login_method"`
	CookieCount int           `json:"cookie_count"`
	SavedTo     string        `json:"saved_to,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	DurationSec float64       `json:"duration_seconds"`
}
