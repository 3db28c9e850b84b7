package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gradebox/internal/check/model"
	"gradebox/internal/common/db"
	appErr "gradebox/pkg/errors"
)

const (
	upsertReportQuery = `INSERT INTO check_reports
	(submission_id, task_id, user_id, status, all_passed, error_code, payload, received_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE status = VALUES(status), all_passed = VALUES(all_passed),
	error_code = VALUES(error_code), payload = VALUES(payload), finished_at = VALUES(finished_at)`
	selectReportQuery = `SELECT payload FROM check_reports WHERE submission_id = ?`
)

// ReportArchive keeps terminal reports in MySQL after the cached copy expires.
type ReportArchive struct {
	db db.Database
}

// NewReportArchive creates an archive on database.
func NewReportArchive(database db.Database) *ReportArchive {
	return &ReportArchive{db: database}
}

// Put upserts a report.
func (a *ReportArchive) Put(ctx context.Context, report model.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	_, err = a.db.Exec(ctx, upsertReportQuery,
		report.SubmissionID,
		report.TaskID,
		report.UserID,
		string(report.Status),
		report.AllPassed,
		report.ErrorCode,
		payload,
		report.Timestamps.ReceivedAt,
		report.Timestamps.FinishedAt,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "archive report failed")
	}
	return nil
}

// Get loads an archived report.
func (a *ReportArchive) Get(ctx context.Context, submissionID string) (model.Report, error) {
	var payload []byte
	if err := a.db.QueryRow(ctx, selectReportQuery, submissionID).Scan(&payload); err != nil {
		if db.IsNoRows(err) {
			return model.Report{}, appErr.New(appErr.ReportNotFound)
		}
		return model.Report{}, appErr.Wrapf(err, appErr.DatabaseError, "load archived report failed")
	}
	var report model.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return model.Report{}, appErr.Wrapf(err, appErr.DatabaseError, "decode archived report failed")
	}
	return report, nil
}
