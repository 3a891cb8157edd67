package hooks

import (
	"context"
	"slices"

	"github.com/groupbuy/groupbuy-client/internal/api"
	"github.com/groupbuy/groupbuy-client/internal/result"
)

// PageFunc fetches one page (1-based).
type PageFunc[T any] func(ctx context.Context, page, pageSize int, opts ...api.RequestOption) result.Result[api.Page[T]]

// Pages fetches pages of endpoint through r.
func Pages[T any](r api.Requester, endpoint string, opts ...api.RequestOption) PageFunc[T] {
	return func(ctx context.Context, page, pageSize int, extra ...api.RequestOption) result.Result[api.Page[T]] {
		return api.GetPage[T](ctx, r, endpoint, page, pageSize, append(opts[:len(opts):len(opts)], extra...)...)
	}
}

// Paginated accumulates the items of a paginated listing.
type Paginated[T any] struct {
	t        *tracker[[]T]
	fetch    PageFunc[T]
	pageSize int

	// guarded by t.mu
	page    int
	total   int
	hasNext bool
}

func NewPaginated[T any](fetch PageFunc[T], pageSize int, opts ...Option) *Paginated[T] {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Paginated[T]{
		t:        newTracker[[]T](opts),
		fetch:    fetch,
		pageSize: pageSize,
	}
}

// Load fetches the first page, replacing anything loaded so far.
func (p *Paginated[T]) Load(ctx context.Context) result.Result[[]T] {
	return p.run(ctx, 1, false)
}

// LoadMore appends the next page. Once the last page is loaded it returns
// ErrNoMoreData without a network call.
func (p *Paginated[T]) LoadMore(ctx context.Context) result.Result[[]T] {
	p.t.mu.Lock()
	next, more := p.page+1, p.hasNext
	p.t.mu.Unlock()

	if !more {
		return result.NewFailed[[]T](ErrNoMoreData)
	}
	return p.run(ctx, next, true)
}

func (p *Paginated[T]) run(parent context.Context, page int, appending bool) result.Result[[]T] {
	ctx, gen, ok := p.t.begin(parent)
	if !ok {
		return result.NewCancelled[[]T]()
	}

	res := p.fetch(ctx, page, p.pageSize)
	items := result.Map(res, func(pg api.Page[T]) ([]T, error) {
		return pg.Items, nil
	})

	applied := p.t.finish(gen, items, func(s *State[[]T], loaded []T) {
		pg, _ := res.Data()
		if appending {
			s.Data = append(slices.Clip(s.Data), loaded...)
		} else {
			s.Data = slices.Clone(loaded)
		}
		p.page = pg.Page
		p.total = pg.Total
		p.hasNext = pg.HasNext
	})
	if !applied {
		return result.NewCancelled[[]T]()
	}
	return items
}

// Items returns a copy of everything loaded so far.
func (p *Paginated[T]) Items() []T {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return slices.Clone(p.t.state.Data)
}

// HasNext reports whether LoadMore can fetch another page.
func (p *Paginated[T]) HasNext() bool {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return p.hasNext
}

// Total is the item count last reported by the server.
func (p *Paginated[T]) Total() int {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return p.total
}

func (p *Paginated[T]) State() State[[]T] {
	s := p.t.snapshot()
	s.Data = slices.Clone(s.Data)
	return s
}

func (p *Paginated[T]) Close() {
	p.t.close()
}
