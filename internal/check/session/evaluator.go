package session

import (
	"context"
	"time"

	"gradebox/internal/check/checker"
	appErr "gradebox/pkg/errors"
	"gradebox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Builder turns definitions into checkers.
type Builder interface {
	Build(def checker.Definition) (checker.Checker, error)
}

// Evaluator runs the checkers of one submission in order.
type Evaluator struct {
	builder Builder
}

// NewEvaluator creates an evaluator backed by builder.
func NewEvaluator(builder Builder) *Evaluator {
	return &Evaluator{builder: builder}
}

// Evaluate runs every definition against env sequentially, so later checkers see the files and
// program produced by earlier ones. A checker that cannot run never stops the others.
func (e *Evaluator) Evaluate(ctx context.Context, env checker.Environment, defs []checker.Definition) []checker.Result {
	results := make([]checker.Result, 0, len(defs))
	for _, def := range defs {
		results = append(results, e.evaluateOne(logger.WithChecker(ctx, def.ID), env, def))
	}
	return results
}

func (e *Evaluator) evaluateOne(ctx context.Context, env checker.Environment, def checker.Definition) checker.Result {
	title := def.Name
	if title == "" {
		title = def.ID
	}
	c, err := e.builder.Build(def)
	if err != nil {
		return classify(ctx, def.ID, title, err)
	}

	start := time.Now()
	res, err := c.Run(ctx, env)
	if err != nil {
		return classify(ctx, def.ID, c.Title(), err)
	}
	logger.Info(ctx, "checker finished",
		zap.String("kind", string(def.Kind)),
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

// classify maps a checker error to a result. Configuration messages are meant for instructors;
// anything else is hidden behind a generic message.
func classify(ctx context.Context, id, title string, err error) checker.Result {
	code := appErr.GetCode(err)
	if code.IsConfiguration() {
		logger.Warn(ctx, "checker misconfigured", zap.Int("code", int(code)), zap.Error(err))
		return checker.Misconfigured(id, title, appErr.GetError(err).Error())
	}
	logger.Error(ctx, "checker could not run", zap.Int("code", int(code)), zap.Error(err))
	return checker.NotRun(id, title)
}

// AllPassed reports whether every result passed. An empty list does not pass.
func AllPassed(results []checker.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
