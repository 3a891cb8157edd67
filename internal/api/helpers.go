package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/groupbuy/groupbuy-client/internal/result"
)

// Decode converts an undecoded payload into T. A JSON null decodes to the zero
// value.
func Decode[T any](res result.Result[json.RawMessage]) result.Result[T] {
	return result.Map(res, func(raw json.RawMessage) (T, error) {
		var v T
		if len(raw) == 0 || string(raw) == "null" {
			return v, nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("decoding response: %w", err)
		}
		return v, nil
	})
}

func Get[T any](ctx context.Context, r Requester, endpoint string, opts ...RequestOption) result.Result[T] {
	return Decode[T](r.Do(ctx, http.MethodGet, endpoint, nil, opts...))
}

func Post[T any](ctx context.Context, r Requester, endpoint string, body any, opts ...RequestOption) result.Result[T] {
	return Decode[T](r.Do(ctx, http.MethodPost, endpoint, body, opts...))
}

func Put[T any](ctx context.Context, r Requester, endpoint string, body any, opts ...RequestOption) result.Result[T] {
	return Decode[T](r.Do(ctx, http.MethodPut, endpoint, body, opts...))
}

func Patch[T any](ctx context.Context, r Requester, endpoint string, body any, opts ...RequestOption) result.Result[T] {
	return Decode[T](r.Do(ctx, http.MethodPatch, endpoint, body, opts...))
}

func Delete[T any](ctx context.Context, r Requester, endpoint string, opts ...RequestOption) result.Result[T] {
	return Decode[T](r.Do(ctx, http.MethodDelete, endpoint, nil, opts...))
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items    []T  `json:"items"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	Total    int  `json:"total"`
	HasNext  bool `json:"hasNext"`
}

// GetPage fetches page (1-based) of endpoint with pageSize items. When the
// server omits hasNext it is derived from total.
func GetPage[T any](ctx context.Context, r Requester, endpoint string, page, pageSize int, opts ...RequestOption) result.Result[Page[T]] {
	opts = append(opts[:len(opts):len(opts)],
		WithParam("page", strconv.Itoa(page)),
		WithParam("pageSize", strconv.Itoa(pageSize)),
	)

	res := r.Do(ctx, http.MethodGet, endpoint, nil, opts...)

	return result.Map(res, func(raw json.RawMessage) (Page[T], error) {
		var wire struct {
			Items    []T   `json:"items"`
			Page     int   `json:"page"`
			PageSize int   `json:"pageSize"`
			Total    int   `json:"total"`
			HasNext  *bool `json:"hasNext"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return Page[T]{}, fmt.Errorf("decoding page: %w", err)
		}

		p := Page[T]{
			Items:    wire.Items,
			Page:     wire.Page,
			PageSize: wire.PageSize,
			Total:    wire.Total,
		}
		if p.Page == 0 {
			p.Page = page
		}
		if p.PageSize == 0 {
			p.PageSize = pageSize
		}

		if wire.HasNext != nil {
			p.HasNext = *wire.HasNext
		} else {
			p.HasNext = p.Page*p.PageSize < p.Total
		}
		return p, nil
	})
}
