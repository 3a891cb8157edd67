package hooks

import (
	"context"

	"github.com/groupbuy/groupbuy-client/internal/api"
	"github.com/groupbuy/groupbuy-client/internal/result"
)

// QueryFunc performs one read. The hook passes extra request options that the
// function must forward to the requester.
type QueryFunc[T any] func(ctx context.Context, opts ...api.RequestOption) result.Result[T]

// Get reads endpoint into T through r.
func Get[T any](r api.Requester, endpoint string, opts ...api.RequestOption) QueryFunc[T] {
	return func(ctx context.Context, extra ...api.RequestOption) result.Result[T] {
		return api.Get[T](ctx, r, endpoint, append(opts[:len(opts):len(opts)], extra...)...)
	}
}

// Query is a repeatable read.
type Query[T any] struct {
	t     *tracker[T]
	fetch QueryFunc[T]
}

func NewQuery[T any](fetch QueryFunc[T], opts ...Option) *Query[T] {
	return &Query[T]{
		t:     newTracker[T](opts),
		fetch: fetch,
	}
}

// Execute runs the read, accepting a cached response when one is available.
func (q *Query[T]) Execute(ctx context.Context) result.Result[T] {
	return q.run(ctx, api.WithCachePreferred())
}

// Refetch runs the read against the network, refreshing any cached copy.
func (q *Query[T]) Refetch(ctx context.Context) result.Result[T] {
	return q.run(ctx)
}

func (q *Query[T]) run(parent context.Context, opts ...api.RequestOption) result.Result[T] {
	ctx, gen, ok := q.t.begin(parent)
	if !ok {
		return result.NewCancelled[T]()
	}

	res := q.fetch(ctx, opts...)

	if !q.t.finish(gen, res, replace[T]) {
		return result.NewCancelled[T]()
	}
	return res
}

func (q *Query[T]) State() State[T] {
	return q.t.snapshot()
}

// Close cancels any call in flight. The hook cannot be used afterwards.
func (q *Query[T]) Close() {
	q.t.close()
}
