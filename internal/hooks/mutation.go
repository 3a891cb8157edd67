package hooks

import (
	"context"

	"github.com/groupbuy/groupbuy-client/internal/api"
	"github.com/groupbuy/groupbuy-client/internal/result"
	"github.com/rs/zerolog/log"
)

// MutationFunc performs one write with the caller's input.
type MutationFunc[V, T any] func(ctx context.Context, input V) result.Result[T]

// Send writes input as the body of a method request to endpoint.
func Send[V, T any](r api.Requester, method, endpoint string, opts ...api.RequestOption) MutationFunc[V, T] {
	return func(ctx context.Context, input V) result.Result[T] {
		return api.Decode[T](r.Do(ctx, method, endpoint, input, opts...))
	}
}

// Mutation is a write that refuses to run while offline.
type Mutation[V, T any] struct {
	t      *tracker[T]
	mutate MutationFunc[V, T]
}

func NewMutation[V, T any](mutate MutationFunc[V, T], opts ...Option) *Mutation[V, T] {
	return &Mutation[V, T]{
		t:      newTracker[T](opts),
		mutate: mutate,
	}
}

// Mutate runs the write. Offline it returns a queued failure wrapping
// api.ErrOffline without touching the network; nothing is persisted for a
// later replay.
func (m *Mutation[V, T]) Mutate(parent context.Context, input V) result.Result[T] {
	ctx, gen, ok := m.t.begin(parent)
	if !ok {
		return result.NewCancelled[T]()
	}

	var res result.Result[T]
	if m.t.online() {
		res = m.mutate(ctx, input)
	} else {
		log.Info().Msg("offline, mutation not sent")
		res = result.NewQueued[T](api.ErrOffline)
	}

	if !m.t.finish(gen, res, replace[T]) {
		return result.NewCancelled[T]()
	}
	return res
}

func (m *Mutation[V, T]) State() State[T] {
	return m.t.snapshot()
}

func (m *Mutation[V, T]) Close() {
	m.t.close()
}
