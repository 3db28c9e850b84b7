package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/model"
	"gradebox/internal/check/repository"
	"gradebox/internal/check/session"
	"gradebox/internal/common/mq"
	"gradebox/internal/common/storage"
	appErr "gradebox/pkg/errors"
	"gradebox/pkg/utils/logger"

	"go.uber.org/zap"
)

// ReportStore persists reports and guards against concurrent evaluation of one submission.
type ReportStore interface {
	Save(ctx context.Context, report model.Report) error
	Claim(ctx context.Context, submissionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, submissionID string) error
}

// Evaluator runs checker definitions against one environment.
type Evaluator interface {
	Evaluate(ctx context.Context, env checker.Environment, defs []checker.Definition) []checker.Result
}

// Service handles check requests.
type Service struct {
	evaluator      Evaluator
	reports        ReportStore
	publisher      repository.ReportEventPublisher
	storage        storage.ObjectStorage
	queue          mq.Producer
	backend        string
	sourceBucket   string
	scriptBucket   string
	workRoot       string
	keepWorkDir    bool
	dirMode        os.FileMode
	maxSourceBytes int64
	reclaimer      session.Reclaimer
	workerTimeout  time.Duration
	storageTimeout time.Duration
	reportTimeout  time.Duration
	claimTTL       time.Duration
	sem            chan struct{}

	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration
}

// Config holds service dependencies and settings.
type Config struct {
	Evaluator      Evaluator
	Reports        ReportStore
	Publisher      repository.ReportEventPublisher
	Storage        storage.ObjectStorage
	Queue          mq.Producer
	Backend        string
	SourceBucket   string
	ScriptBucket   string
	WorkRoot       string
	KeepWorkDir    bool
	DirMode        os.FileMode
	MaxSourceBytes int64
	// Reclaimer hands files written by checks back to the service before removal.
	Reclaimer      session.Reclaimer
	WorkerTimeout  time.Duration
	StorageTimeout time.Duration
	ReportTimeout  time.Duration
	ClaimTTL       time.Duration
	WorkerPoolSize int

	RetryTopic    string
	DeadLetter    string
	PoolRetryMax  int
	PoolRetryBase time.Duration
	PoolRetryMaxD time.Duration
}

// NewService creates a new check service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Reports == nil {
		return nil, fmt.Errorf("report store is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	scriptBucket := cfg.ScriptBucket
	if scriptBucket == "" {
		scriptBucket = cfg.SourceBucket
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 10 * time.Minute
	}
	return &Service{
		evaluator:      cfg.Evaluator,
		reports:        cfg.Reports,
		publisher:      cfg.Publisher,
		storage:        cfg.Storage,
		queue:          cfg.Queue,
		backend:        cfg.Backend,
		sourceBucket:   cfg.SourceBucket,
		scriptBucket:   scriptBucket,
		workRoot:       cfg.WorkRoot,
		keepWorkDir:    cfg.KeepWorkDir,
		dirMode:        cfg.DirMode,
		maxSourceBytes: cfg.MaxSourceBytes,
		reclaimer:      cfg.Reclaimer,
		workerTimeout:  cfg.WorkerTimeout,
		storageTimeout: cfg.StorageTimeout,
		reportTimeout:  cfg.ReportTimeout,
		claimTTL:       claimTTL,
		sem:            make(chan struct{}, poolSize),
		retryTopic:     cfg.RetryTopic,
		deadLetter:     cfg.DeadLetter,
		poolRetryMax:   cfg.PoolRetryMax,
		poolRetryBase:  cfg.PoolRetryBase,
		poolRetryMaxD:  cfg.PoolRetryMaxD,
	}, nil
}

// HandleMessage processes one check request.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.CheckMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable check message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" || len(payload.Checkers) == 0 {
		logger.Warn(ctx, "drop check message missing required fields", zap.String("message_id", msg.ID))
		return nil
	}
	ctx = logger.WithSubmission(ctx, payload.SubmissionID)

	if !s.tryAcquireSlot() {
		return s.requeueForPoolFull(ctx, msg)
	}
	defer s.releaseSlot()

	claimed, err := s.reports.Claim(ctx, payload.SubmissionID, s.claimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info(ctx, "submission is already being checked")
		return nil
	}
	defer func() {
		if err := s.reports.Release(context.WithoutCancel(ctx), payload.SubmissionID); err != nil {
			logger.Warn(ctx, "release submission claim failed", zap.Error(err))
		}
	}()

	report := model.Report{
		SubmissionID: payload.SubmissionID,
		TaskID:       payload.TaskID,
		UserID:       payload.User.ID,
		Status:       model.ReportRunning,
		Backend:      s.backend,
		Timestamps:   model.Timestamps{ReceivedAt: time.Now().Unix()},
	}
	if err := s.saveReport(ctx, report); err != nil {
		return err
	}

	results, err := s.evaluate(ctx, payload)
	if err != nil {
		return s.handleFailure(ctx, report, err)
	}

	report.Status = model.ReportFinished
	report.Results = results
	report.AllPassed = session.AllPassed(results)
	report.Timestamps.FinishedAt = time.Now().Unix()
	return s.finish(ctx, report)
}

func (s *Service) evaluate(ctx context.Context, payload model.CheckMessage) ([]checker.Result, error) {
	sources, err := s.fetchSources(ctx, payload)
	if err != nil {
		return nil, err
	}
	defs, err := s.resolveScripts(ctx, payload.Checkers)
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Submission{
		ID:      payload.SubmissionID,
		TaskID:  payload.TaskID,
		User:    payload.User,
		Sources: sources,
	}, session.Options{
		Root:           s.workRoot,
		DirMode:        s.dirMode,
		MaxSourceBytes: s.maxSourceBytes,
		Reclaimer:      s.reclaimer,
	})
	if err != nil {
		return nil, err
	}
	if !s.keepWorkDir {
		defer func() {
			if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "remove work dir failed", zap.String("work_dir", sess.WorkDir()), zap.Error(err))
			}
		}()
	}

	ctxWorker := ctx
	if s.workerTimeout > 0 {
		var cancel context.CancelFunc
		ctxWorker, cancel = context.WithTimeout(ctx, s.workerTimeout)
		defer cancel()
	}
	return s.evaluator.Evaluate(ctxWorker, sess, defs), nil
}

func (s *Service) finish(ctx context.Context, report model.Report) error {
	if err := s.saveReport(ctx, report); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.PublishFinalReport(ctx, report); err != nil {
		logger.Warn(ctx, "publish final report failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) saveReport(ctx context.Context, report model.Report) error {
	ctxReport := ctx
	if s.reportTimeout > 0 {
		var cancel context.CancelFunc
		ctxReport, cancel = context.WithTimeout(ctx, s.reportTimeout)
		defer cancel()
	}
	return s.reports.Save(ctxReport, report)
}

// handleFailure records a submission that could not be evaluated. Errors caused by the message
// itself are final; anything else is returned so the consumer retries.
func (s *Service) handleFailure(ctx context.Context, report model.Report, err error) error {
	code := appErr.GetCode(err)
	logger.Error(ctx, "check submission failed", zap.Int("code", int(code)), zap.Error(err))

	report.Status = model.ReportFailed
	report.ErrorCode = int(code)
	report.ErrorMessage = code.Message()
	if !code.IsInfrastructure() && code != appErr.InternalServerError && code != appErr.SourceFetchFailed {
		report.ErrorMessage = err.Error()
	}
	report.Timestamps.FinishedAt = time.Now().Unix()

	if permanent(code) {
		if finishErr := s.finish(ctx, report); finishErr != nil {
			logger.Warn(ctx, "store failure report failed", zap.Error(finishErr))
		}
		return nil
	}
	if saveErr := s.saveReport(ctx, report); saveErr != nil {
		logger.Warn(ctx, "store failure report failed", zap.Error(saveErr))
	}
	return err
}

func permanent(code appErr.ErrorCode) bool {
	switch code {
	case appErr.InvalidParams, appErr.ValidationFailed, appErr.SourceNameInvalid, appErr.SourceTooLarge:
		return true
	default:
		return code.IsConfiguration()
	}
}
