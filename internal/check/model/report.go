package model

import "gradebox/internal/check/checker"

// ReportStatus is the lifecycle state of a submission's checks.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportRunning  ReportStatus = "running"
	ReportFinished ReportStatus = "finished"
	// ReportFailed means the submission could not be evaluated at all.
	ReportFailed ReportStatus = "failed"
)

// Timestamps are unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"received_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// Report is the stored outcome of all checkers of one submission.
type Report struct {
	SubmissionID string           `json:"submission_id"`
	TaskID       string           `json:"task_id,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	Status       ReportStatus     `json:"status"`
	AllPassed    bool             `json:"all_passed"`
	Results      []checker.Result `json:"results,omitempty"`
	Backend      string           `json:"backend,omitempty"`
	ErrorCode    int              `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Timestamps   Timestamps       `json:"timestamps"`
}

// Terminal reports whether the report will not change anymore.
func (r Report) Terminal() bool {
	return r.Status == ReportFinished || r.Status == ReportFailed
}

// ReportEventType marks the kind of report event.
type ReportEventType string

const ReportEventFinal ReportEventType = "final"

// ReportEvent is published when a report reaches a terminal state.
type ReportEvent struct {
	Type      ReportEventType `json:"type"`
	Report    Report          `json:"report"`
	CreatedAt int64           `json:"created_at"`
}
