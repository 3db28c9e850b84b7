package checker

import (
	"sync"

	"gradebox/internal/check/sandbox"
	appErr "gradebox/pkg/errors"
)

// Factory builds a checker from its definition.
type Factory func(def Definition, cfg Config, runner sandbox.Executor) (Checker, error)

// Registry maps checker kinds to factories.
type Registry struct {
	cfg    Config
	runner sandbox.Executor

	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry returns a registry with the compiler presets and the script checker registered.
func NewRegistry(cfg Config, runner sandbox.Executor) *Registry {
	cfg.ApplyDefaults()
	r := &Registry{cfg: cfg, runner: runner, factories: make(map[Kind]Factory)}
	compiler := func(def Definition, cfg Config, runner sandbox.Executor) (Checker, error) {
		return NewCompilerChecker(def, cfg, runner)
	}
	for kind := range profiles {
		r.Register(kind, compiler)
	}
	r.Register(KindScript, func(def Definition, cfg Config, runner sandbox.Executor) (Checker, error) {
		return NewScriptChecker(def, cfg, runner)
	})
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build creates the checker for def.
func (r *Registry) Build(def Definition) (Checker, error) {
	r.mu.RLock()
	f, ok := r.factories[def.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, appErr.Newf(appErr.CheckerKindUnknown, "unknown checker kind %q", def.Kind)
	}
	if def.ID == "" {
		return nil, appErr.ConfigError("id", "checker id is required")
	}
	return f(def, r.cfg, r.runner)
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	return kinds
}
