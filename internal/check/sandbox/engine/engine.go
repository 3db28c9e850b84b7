// Package engine implements the isolation backends that spawn and supervise one run.
package engine

import (
	"context"
	"fmt"
	"strings"

	"gradebox/internal/check/sandbox/result"
	"gradebox/internal/check/sandbox/spec"
)

// Engine executes a RunSpec under one isolation strategy.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.Outcome, error)
	Kind() Kind
	// Reclaim makes everything a run left under dir removable by the calling account.
	Reclaim(ctx context.Context, dir string) error
}

// Kind names an isolation backend.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindDelegated Kind = "delegated"
	KindContainer Kind = "container"
)

// ParseKind accepts the configured backend name. Empty selects direct execution.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindDirect:
		return KindDirect, nil
	case KindDelegated, "delegated-user":
		return KindDelegated, nil
	case KindContainer, "containerized", "docker":
		return KindContainer, nil
	default:
		return "", fmt.Errorf("unknown isolation backend %q", raw)
	}
}

// New builds the configured backend. Exactly one backend is active per process.
func New(ctx context.Context, cfg Config) (Engine, error) {
	kind, err := ParseKind(string(cfg.Backend))
	if err != nil {
		return nil, err
	}
	cfg.Backend = kind
	cfg.applyDefaults()
	switch kind {
	case KindDirect:
		return newDirect(cfg)
	case KindDelegated:
		return newDelegated(ctx, cfg)
	default:
		cli, err := NewDockerClient(cfg.Container.DockerHost)
		if err != nil {
			return nil, err
		}
		return NewContainer(ctx, cfg.Container, cli)
	}
}
