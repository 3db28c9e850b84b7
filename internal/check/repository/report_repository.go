package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gradebox/internal/check/model"
	"gradebox/internal/common/cache"
	appErr "gradebox/pkg/errors"
)

const (
	reportKeyPrefix = "check:report:"
	claimKeyPrefix  = "check:claim:"
)

// ReportRepository stores reports in the cache with a TTL. Terminal reports are also written to
// the archive when one is configured.
type ReportRepository struct {
	cache   cache.Cache
	archive *ReportArchive
	TTL     time.Duration
}

// NewReportRepository creates a new repository.
func NewReportRepository(cacheClient cache.Cache, ttl time.Duration) *ReportRepository {
	return &ReportRepository{cache: cacheClient, TTL: ttl}
}

// WithArchive enables the durable fallback.
func (r *ReportRepository) WithArchive(archive *ReportArchive) *ReportRepository {
	r.archive = archive
	return r
}

// Get returns the report of a submission.
func (r *ReportRepository) Get(ctx context.Context, submissionID string) (model.Report, error) {
	if submissionID == "" {
		return model.Report{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.Report{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, reportKeyPrefix+submissionID)
	if err != nil {
		return model.Report{}, appErr.Wrapf(err, appErr.CacheError, "load report failed")
	}
	if val == "" {
		return r.getArchived(ctx, submissionID)
	}
	var report model.Report
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return model.Report{}, appErr.Wrapf(err, appErr.CacheError, "decode report failed")
	}
	return report, nil
}

// Save persists a report.
func (r *ReportRepository) Save(ctx context.Context, report model.Report) error {
	if report.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	if err := r.cache.Set(ctx, reportKeyPrefix+report.SubmissionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store report failed")
	}
	if r.archive != nil && report.Terminal() {
		return r.archive.Put(ctx, report)
	}
	return nil
}

func (r *ReportRepository) getArchived(ctx context.Context, submissionID string) (model.Report, error) {
	if r.archive == nil {
		return model.Report{}, appErr.New(appErr.ReportNotFound)
	}
	report, err := r.archive.Get(ctx, submissionID)
	if err != nil {
		return model.Report{}, err
	}
	if data, err := json.Marshal(report); err == nil {
		_ = r.cache.Set(ctx, reportKeyPrefix+submissionID, string(data), r.TTL)
	}
	return report, nil
}

// Claim marks a submission as being evaluated. It returns false when another worker holds it.
func (r *ReportRepository) Claim(ctx context.Context, submissionID string, ttl time.Duration) (bool, error) {
	if r.cache == nil {
		return false, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	ok, err := r.cache.TryLock(ctx, claimKeyPrefix+submissionID, ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "claim submission failed")
	}
	return ok, nil
}

// Release drops a claim taken with Claim.
func (r *ReportRepository) Release(ctx context.Context, submissionID string) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Unlock(ctx, claimKeyPrefix+submissionID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "release submission failed")
	}
	return nil
}
