// Package session owns the working directory of one submission and runs its checkers.
package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gradebox/internal/check/checker"
	appErr "gradebox/pkg/errors"

	"github.com/google/uuid"
)

const defaultDirMode = 0o770

// Submission is the input of one evaluation pass.
type Submission struct {
	ID      string
	TaskID  string
	User    checker.User
	Sources []checker.Source
}

// Reclaimer makes files created by checks deletable by the service account.
type Reclaimer interface {
	Reclaim(ctx context.Context, dir string) error
}

// Options controls where sessions live.
type Options struct {
	Root string
	// DirMode is applied to the working directory regardless of umask. Use a group-writable
	// mode when checks run as a delegated account sharing the service's group.
	DirMode os.FileMode
	// MaxSourceBytes bounds the total size of the sources. Zero means unlimited.
	MaxSourceBytes int64
	// Reclaimer runs before the working directory is removed.
	Reclaimer Reclaimer
}

// Session is the Environment of one submission.
type Session struct {
	dir       string
	reclaimer Reclaimer
	sub       Submission
	vars      map[string]string
	mu        sync.Mutex
	program   string
}

// New creates a fresh working directory under opts.Root and writes the sources into it.
func New(sub Submission, opts Options) (*Session, error) {
	if sub.ID == "" {
		return nil, appErr.ValidationError("submission_id", "submission id is required")
	}
	if err := validateSources(sub.Sources, opts.MaxSourceBytes); err != nil {
		return nil, err
	}
	mode := opts.DirMode
	if mode == 0 {
		mode = defaultDirMode
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkDirUnusable, "create work root")
	}
	dir := filepath.Join(opts.Root, safeName(sub.ID)+"-"+uuid.NewString())
	if err := os.Mkdir(dir, mode); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkDirUnusable, "create work dir")
	}
	if err := os.Chmod(dir, mode); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.WorkDirUnusable, "chmod work dir")
	}
	for _, src := range sub.Sources {
		if err := os.WriteFile(filepath.Join(dir, src.Name), src.Content, 0o644); err != nil {
			_ = os.RemoveAll(dir)
			return nil, appErr.Wrapf(err, appErr.WorkDirUnusable, "write source %s", src.Name)
		}
	}
	return &Session{
		dir:       dir,
		reclaimer: opts.Reclaimer,
		sub:       sub,
		vars: map[string]string{
			"SUBMISSION_ID": sub.ID,
			"TASK_ID":       sub.TaskID,
			"USER_ID":       sub.User.ID,
		},
	}, nil
}

func validateSources(sources []checker.Source, maxBytes int64) error {
	seen := make(map[string]struct{}, len(sources))
	var total int64
	for _, src := range sources {
		if err := validateName(src.Name); err != nil {
			return err
		}
		if _, dup := seen[src.Name]; dup {
			return appErr.Newf(appErr.SourceNameInvalid, "duplicate source %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		total += int64(len(src.Content))
	}
	if maxBytes > 0 && total > maxBytes {
		return appErr.Newf(appErr.SourceTooLarge, "sources total %d bytes, limit %d", total, maxBytes)
	}
	return nil
}

// validateName accepts plain file names only.
func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return appErr.Newf(appErr.SourceNameInvalid, "invalid source name %q", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return appErr.Newf(appErr.SourceNameInvalid, "source name %q must not contain a path", name)
	}
	return nil
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func (s *Session) WorkDir() string {
	return s.dir
}

func (s *Session) Sources() []checker.Source {
	return s.sub.Sources
}

func (s *Session) User() checker.User {
	return s.sub.User
}

func (s *Session) Program() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}

func (s *Session) SetProgram(program string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = program
}

func (s *Session) Vars() map[string]string {
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Close removes the working directory. A failed reclaim does not stop the removal attempt.
func (s *Session) Close(ctx context.Context) error {
	var reclaimErr error
	if s.reclaimer != nil {
		reclaimErr = s.reclaimer.Reclaim(ctx, s.dir)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		if reclaimErr != nil {
			return appErr.Wrapf(reclaimErr, appErr.WorkDirUnusable, "remove %s: %v", s.dir, err)
		}
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "remove work dir")
	}
	return nil
}
