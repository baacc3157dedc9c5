// Package registry provides hook management for module completion.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CompletionHook is the side effect fired exactly once when a user exits a
// module. The engine calls it before persisting the new cursor; an error
// aborts the turn without any state write.
type CompletionHook func(ctx context.Context, userID string) error

// HookFactory defines a function that creates a completion hook from script
// parameters. The module id is always present in params under "module".
type HookFactory func(params map[string]string) (CompletionHook, error)

// Built-in hook kinds.
const (
	HookKindNone = "none"
	HookKindLog  = "log"
)

// HookRegistry manages the mapping of hook kind names to factory functions.
type HookRegistry struct {
	factories map[string]HookFactory
	mu        sync.RWMutex
}

// NewHookRegistry creates a new hook registry with default factories.
func NewHookRegistry() *HookRegistry {
	hr := &HookRegistry{
		factories: make(map[string]HookFactory),
	}
	hr.registerDefaultFactories()
	return hr
}

// registerDefaultFactories registers the built-in hook factory functions.
func (hr *HookRegistry) registerDefaultFactories() {
	// No-op hook: modules without an observable completion effect.
	hr.factories[HookKindNone] = func(params map[string]string) (CompletionHook, error) {
		return nil, nil
	}

	// Log hook: records the module transition.
	hr.factories[HookKindLog] = func(params map[string]string) (CompletionHook, error) {
		moduleID := params["module"]
		return func(ctx context.Context, userID string) error {
			slog.Info("module completed", "module", moduleID, "userID", userID)
			return nil
		}, nil
	}

	slog.Debug("HookRegistry registered default factories", "count", len(hr.factories))
}

// RegisterFactory registers a custom hook factory function. Hosts embedding
// the engine use this to attach domain side effects (enrollment records,
// outbound notifications) to module completion.
func (hr *HookRegistry) RegisterFactory(kind string, factory HookFactory) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.factories[kind] = factory
	slog.Debug("HookRegistry registered custom factory", "kind", kind)
}

// CreateHook creates a hook using the registered factory for the given kind.
// An empty kind resolves to the no-op hook.
func (hr *HookRegistry) CreateHook(kind string, params map[string]string) (CompletionHook, error) {
	if kind == "" {
		kind = HookKindNone
	}

	hr.mu.RLock()
	factory, exists := hr.factories[kind]
	hr.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no factory registered for hook kind: %s", kind)
	}

	hook, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create hook of kind %s: %w", kind, err)
	}

	slog.Debug("HookRegistry created hook", "kind", kind, "module", params["module"])
	return hook, nil
}
