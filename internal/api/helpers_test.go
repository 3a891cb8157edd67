package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/groupbuy/groupbuy-client/internal/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type product struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Price int    `json:"priceCents"`
}

func TestDecode(t *testing.T) {
	res := Decode[product](result.NewSuccess(json.RawMessage(`{"id":1,"name":"Kettle","priceCents":2599}`), "fetched"))

	p, ok := res.Data()
	require.True(t, ok)
	assert.Equal(t, product{ID: 1, Name: "Kettle", Price: 2599}, p)
	assert.Equal(t, "fetched", res.Message())
}

func TestDecode_MismatchedShapeFails(t *testing.T) {
	res := Decode[product](result.NewSuccess(json.RawMessage(`[1,2]`), ""))

	err, failed := res.Failed()
	require.True(t, failed)
	assert.ErrorContains(t, err, "decoding response")
}

func TestDecode_CarriesNonSuccess(t *testing.T) {
	cancelled := Decode[product](result.NewCancelled[json.RawMessage]())
	assert.True(t, cancelled.Cancelled())

	fromCache := Decode[product](result.NewSuccess(json.RawMessage(`{"id":2}`), "").WithCache())
	assert.True(t, fromCache.FromCache())
}

func TestGetPage(t *testing.T) {
	tests := []struct {
		name    string
		reply   map[string]any
		hasNext bool
	}{
		{
			name:    "explicit hasNext",
			reply:   map[string]any{"items": []map[string]any{{"id": 1}}, "page": 2, "pageSize": 1, "total": 2, "hasNext": true},
			hasNext: true,
		},
		{
			name:    "derived from total with more pages",
			reply:   map[string]any{"items": []map[string]any{{"id": 1}}, "page": 2, "pageSize": 1, "total": 3},
			hasNext: true,
		},
		{
			name:    "derived from total on last page",
			reply:   map[string]any{"items": []map[string]any{{"id": 1}}, "page": 2, "pageSize": 1, "total": 2},
			hasNext: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "2", r.URL.Query().Get("page"))
				assert.Equal(t, "1", r.URL.Query().Get("pageSize"))
				assert.Equal(t, "kitchen", r.URL.Query().Get("category"))
				writeJSON(w, http.StatusOK, map[string]any{"data": tt.reply})
			})

			res := GetPage[product](context.Background(), c, "/products", 2, 1, WithParam("category", "kitchen"))

			page, ok := res.Data()
			require.True(t, ok, res.Message())
			assert.Len(t, page.Items, 1)
			assert.Equal(t, 2, page.Page)
			assert.Equal(t, tt.hasNext, page.HasNext)
		})
	}
}

func TestGetPage_FillsMissingPageFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}, "total": 0})
	})

	res := GetPage[product](context.Background(), c, "/products", 1, 20)

	page, ok := res.Data()
	require.True(t, ok)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.False(t, page.HasNext)
}

func TestHelpers_UseMethods(t *testing.T) {
	var methods []string
	rec := requesterFunc(func(_ context.Context, method, _ string, _ any, _ ...RequestOption) result.Result[json.RawMessage] {
		methods = append(methods, method)
		return result.NewSuccess(json.RawMessage(`{}`), "")
	})

	ctx := context.Background()
	Get[product](ctx, rec, "/p")
	Post[product](ctx, rec, "/p", nil)
	Put[product](ctx, rec, "/p", nil)
	Patch[product](ctx, rec, "/p", nil)
	Delete[product](ctx, rec, "/p")

	assert.Equal(t, []string{"GET", "POST", "PUT", "PATCH", "DELETE"}, methods)
}

type requesterFunc func(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) result.Result[json.RawMessage]

func (f requesterFunc) Do(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) result.Result[json.RawMessage] {
	return f(ctx, method, endpoint, body, opts...)
}

func TestResolveOptions(t *testing.T) {
	o := ResolveOptions(
		WithParams(map[string]string{"a": "1"}),
		WithParam("b", "2"),
		WithHeader("X-Test", "yes"),
		WithoutAuth(),
		WithCachePreferred(),
		WithCacheTTL(90),
		WithoutCache(),
	)

	assert.Equal(t, "1", o.Params.Get("a"))
	assert.Equal(t, "2", o.Params.Get("b"))
	assert.Equal(t, "yes", o.Headers.Get("X-Test"))
	assert.True(t, o.SkipAuth)
	assert.True(t, o.CachePreferred)
	assert.EqualValues(t, 90, o.CacheTTL)
	assert.True(t, o.NoCache)
}
