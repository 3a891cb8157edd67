// Package server holds process lifecycle helpers shared by the CLI and the
// development server: ordered release of resources and graceful HTTP serving.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks releases resources in the reverse order they were
// registered, so a resource is released before the things it depends on.
// Every hook runs even if an earlier one fails.
type ShutdownHooks struct {
	hooks []hookDefinition
}

// AddContext registers a hook that receives the shutdown context. Nil hooks
// are ignored with a warning.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hookDefinition{name: name, fn: hook})
}

// Add registers a hook with no context parameter, such as a Close method
// value: hooks.Add("store", store.Close).
func (s *ShutdownHooks) Add(name string, hook func() error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return hook()
	})
}

// Len reports the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs the hooks last-registered first and returns every failure
// joined. The hook list is emptied so a second call does nothing.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	l := log.Ctx(ctx)

	var errs []error
	for i := len(s.hooks) - 1; i >= 0; i-- {
		hook := s.hooks[i]
		hookLog := l.With().Str("hook", hook.name).Logger()

		hookLog.Debug().Msg("shutdown started")
		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
		} else {
			hookLog.Debug().Msg("shutdown complete")
		}
	}
	s.hooks = nil

	return errors.Join(errs...)
}
