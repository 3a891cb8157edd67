// Package devapi is an in-memory group-buy backend for local development and
// tests. It issues real signed tokens with a configurable lifetime and can
// inject failures, so the client's refresh, retry and cache paths can be
// exercised end to end.
package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/groupbuy/groupbuy-client/internal/audit"
	"github.com/groupbuy/groupbuy-client/internal/observe"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

// requestLimitBytes bounds request bodies; the API shape needs very little.
const requestLimitBytes = 64 << 10

type Options struct {
	Fixtures Fixtures

	// Secret signs access tokens.
	Secret []byte

	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration

	// FailEvery makes every Nth API request fail with 503. Zero disables.
	FailEvery int

	// Latency delays every API response.
	Latency time.Duration

	Now func() time.Time
}

type CartItem struct {
	ProductID  int `json:"productId"`
	Quantity   int `json:"quantity"`
	PriceCents int `json:"priceCents"`
}

type Cart struct {
	Items      []CartItem `json:"items"`
	TotalCents int        `json:"totalCents"`
}

type Order struct {
	ID         int        `json:"id"`
	Items      []CartItem `json:"items"`
	TotalCents int        `json:"totalCents"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type page[T any] struct {
	Items    []T  `json:"items"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	Total    int  `json:"total"`
	HasNext  bool `json:"hasNext"`
}

// API is the backend state plus its HTTP surface.
type API struct {
	opts   Options
	tokens *issuer

	mu       sync.Mutex
	users    []User
	products map[int]Product
	deals    map[int]Deal
	carts    map[int]map[int]int
	orders   map[int][]Order
	nextID   int
	hits     map[string]int

	requests atomic.Int64
}

func New(opts Options) *API {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("groupbuy-dev-secret")
	}

	a := &API{
		opts:     opts,
		tokens:   newIssuer(opts.Secret, opts.AccessTTL, opts.Now),
		users:    slices.Clone(opts.Fixtures.Users),
		products: map[int]Product{},
		deals:    map[int]Deal{},
		carts:    map[int]map[int]int{},
		orders:   map[int][]Order{},
		nextID:   1000,
		hits:     map[string]int{},
	}
	for _, p := range opts.Fixtures.Products {
		a.products[p.ID] = p
	}
	for _, d := range opts.Fixtures.Deals {
		a.deals[d.ID] = d
	}
	return a
}

// Handler returns the HTTP routes of the API.
func (a *API) Handler() http.Handler {
	plain := http.NewServeMux()
	mux := observe.NewMux(plain)

	standard := alice.New(maxRequestSize(requestLimitBytes), audit.Middleware(), a.count)
	public := standard.Append(a.chaos)
	authorized := public.Append(a.requireAuth)

	mux.Handle("POST /auth/login", standard.ThenFunc(a.handleLogin))
	mux.Handle("POST /auth/refresh", standard.ThenFunc(a.handleRefresh))

	mux.Handle("GET /products", public.ThenFunc(a.handleListProducts))
	mux.Handle("GET /products/{id}", public.ThenFunc(a.handleGetProduct))
	mux.Handle("PATCH /products/{id}", authorized.ThenFunc(a.handlePatchProduct))

	mux.Handle("GET /deals", public.ThenFunc(a.handleListDeals))
	mux.Handle("POST /deals/{id}/join", authorized.ThenFunc(a.handleJoinDeal))

	mux.Handle("GET /cart", authorized.ThenFunc(a.handleGetCart))
	mux.Handle("POST /cart/items", authorized.ThenFunc(a.handleAddCartItem))
	mux.Handle("DELETE /cart/items/{id}", authorized.ThenFunc(a.handleRemoveCartItem))

	mux.Handle("GET /orders", authorized.ThenFunc(a.handleListOrders))
	mux.Handle("POST /orders", authorized.ThenFunc(a.handleCheckout))

	mux.Unobserved("GET /healthcheck", http.HandlerFunc(handleHealthCheck))

	return mux
}

// Hits reports how many times a route was requested, keyed as
// "METHOD /path".
func (a *API) Hits(method, path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[method+" "+path]
}

// IssueTokens signs in the user with the given email without a password, for
// tests that start from an authenticated session.
func (a *API) IssueTokens(email string) (TokenReply, error) {
	user, ok := a.user(email)
	if !ok {
		return TokenReply{}, errors.New("unknown user")
	}
	return a.tokens.issue(user)
}

func (a *API) user(email string) (User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.IndexFunc(a.users, func(u User) bool { return strings.EqualFold(u.Email, email) })
	if i < 0 {
		return User{}, false
	}
	return a.users[i], true
}

// middleware

func maxRequestSize(limit int64) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

func (a *API) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.hits[r.Method+" "+r.URL.Path]++
		a.mu.Unlock()

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Msg("dev api request")

		next.ServeHTTP(w, r)
	})
}

func (a *API) chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := a.requests.Add(1)

		if a.opts.Latency > 0 {
			select {
			case <-time.After(a.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}

		if a.opts.FailEvery > 0 && n%int64(a.opts.FailEvery) == 0 {
			drainRequestBody(r)
			writeJSONError(w, http.StatusServiceUnavailable, "injected failure")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := audit.Log(r.Context())

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			entry.Error = "authentication required"
			drainRequestBody(r)
			writeJSONError(w, http.StatusUnauthorized, entry.Error)
			return
		}

		claims, err := a.tokens.verify(token)
		if err != nil {
			entry.Error = err.Error()
			drainRequestBody(r)
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		entry.User = claims.Email
		if claims.ExpiresAt != nil {
			entry.AuthExpiry = claims.ExpiresAt.Time
		}

		user, found := a.user(claims.Email)
		if !found {
			entry.Error = "unknown user"
			drainRequestBody(r)
			writeJSONError(w, http.StatusUnauthorized, entry.Error)
			return
		}
		entry.Authorized = true

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func currentUser(r *http.Request) User {
	u, _ := r.Context().Value(userKey{}).(User)
	return u
}

// auth

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	entry := audit.Log(r.Context())
	entry.User = body.Email

	user, ok := a.user(body.Email)
	if !ok || user.Password != body.Password {
		entry.Error = "invalid email or password"
		writeJSONError(w, http.StatusUnauthorized, entry.Error)
		return
	}

	a.writeTokens(w, user, "signed in")
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	reply, err := a.tokens.rotate(body.RefreshToken)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeData(w, http.StatusOK, reply, "session refreshed")
}

func (a *API) writeTokens(w http.ResponseWriter, user User, message string) {
	reply, err := a.tokens.issue(user)
	if err != nil {
		log.Error().Err(err).Msg("token issue failed")
		writeJSONError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeData(w, http.StatusOK, reply, message)
}

// catalogue

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	a.mu.Lock()
	var all []Product
	for _, p := range a.products {
		if category == "" || p.Category == category {
			all = append(all, p)
		}
	}
	a.mu.Unlock()

	slices.SortFunc(all, func(x, y Product) int { return x.ID - y.ID })
	writeData(w, http.StatusOK, paginate(r, all), "")
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	a.mu.Lock()
	p, found := a.products[id]
	a.mu.Unlock()

	if !found {
		writeJSONError(w, http.StatusNotFound, "product not found")
		return
	}
	writeData(w, http.StatusOK, p, "")
}

func (a *API) handlePatchProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Name       *string `json:"name"`
		PriceCents *int    `json:"priceCents"`
		Stock      *int    `json:"stock"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	entry := audit.Log(r.Context())
	entry.Resource = "product"
	entry.ResourceID = id

	a.mu.Lock()
	p, found := a.products[id]
	if found {
		if body.Name != nil {
			p.Name = *body.Name
		}
		if body.PriceCents != nil {
			p.PriceCents = *body.PriceCents
		}
		if body.Stock != nil {
			p.Stock = *body.Stock
		}
		a.products[id] = p
	}
	a.mu.Unlock()

	if !found {
		writeJSONError(w, http.StatusNotFound, "product not found")
		return
	}
	writeData(w, http.StatusOK, p, "product updated")
}

func (a *API) handleListDeals(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	all := make([]Deal, 0, len(a.deals))
	for _, d := range a.deals {
		all = append(all, d)
	}
	a.mu.Unlock()

	slices.SortFunc(all, func(x, y Deal) int { return x.ID - y.ID })
	writeData(w, http.StatusOK, paginate(r, all), "")
}

func (a *API) handleJoinDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	drainRequestBody(r)

	entry := audit.Log(r.Context())
	entry.Resource = "deal"
	entry.ResourceID = id

	a.mu.Lock()
	d, found := a.deals[id]
	if found {
		d.Participants++
		a.deals[id] = d
	}
	a.mu.Unlock()

	if !found {
		writeJSONError(w, http.StatusNotFound, "deal not found")
		return
	}
	writeData(w, http.StatusOK, d, "joined deal")
}

// cart and orders

func (a *API) cartLocked(userID int) Cart {
	var c Cart
	for productID, qty := range a.carts[userID] {
		price := a.products[productID].PriceCents
		c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: qty, PriceCents: price})
		c.TotalCents += price * qty
	}
	slices.SortFunc(c.Items, func(x, y CartItem) int { return x.ProductID - y.ProductID })
	if c.Items == nil {
		c.Items = []CartItem{}
	}
	return c
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	a.mu.Lock()
	c := a.cartLocked(user.ID)
	a.mu.Unlock()

	writeData(w, http.StatusOK, c, "")
}

func (a *API) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID int `json:"productId"`
		Quantity  int `json:"quantity"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Quantity <= 0 {
		writeJSONError(w, http.StatusUnprocessableEntity, "quantity must be positive")
		return
	}

	user := currentUser(r)

	entry := audit.Log(r.Context())
	entry.Resource = "cart"
	entry.ResourceID = body.ProductID
	entry.Quantity = body.Quantity

	a.mu.Lock()
	p, found := a.products[body.ProductID]
	var c Cart
	if found {
		if a.carts[user.ID] == nil {
			a.carts[user.ID] = map[int]int{}
		}
		a.carts[user.ID][p.ID] += body.Quantity
		c = a.cartLocked(user.ID)
	}
	a.mu.Unlock()

	if !found {
		writeJSONError(w, http.StatusNotFound, "product not found")
		return
	}
	writeData(w, http.StatusCreated, c, "added to cart")
}

func (a *API) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	drainRequestBody(r)

	user := currentUser(r)

	a.mu.Lock()
	delete(a.carts[user.ID], id)
	c := a.cartLocked(user.ID)
	a.mu.Unlock()

	writeData(w, http.StatusOK, c, "removed from cart")
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	a.mu.Lock()
	orders := slices.Clone(a.orders[user.ID])
	a.mu.Unlock()

	writeData(w, http.StatusOK, paginate(r, orders), "")
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	drainRequestBody(r)
	user := currentUser(r)

	a.mu.Lock()
	c := a.cartLocked(user.ID)
	var order Order
	if len(c.Items) > 0 {
		a.nextID++
		order = Order{ID: a.nextID, Items: c.Items, TotalCents: c.TotalCents, CreatedAt: a.opts.Now().UTC()}
		a.orders[user.ID] = append(a.orders[user.ID], order)
		delete(a.carts, user.ID)
	}
	a.mu.Unlock()

	entry := audit.Log(r.Context())
	entry.Resource = "order"
	if order.ID == 0 {
		entry.Error = "cart is empty"
		writeJSONError(w, http.StatusConflict, entry.Error)
		return
	}
	entry.ResourceID = order.ID
	entry.TotalCents = order.TotalCents
	writeData(w, http.StatusCreated, order, "order placed")
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	drainRequestBody(r)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// helpers

func paginate[T any](r *http.Request, all []T) page[T] {
	q := r.URL.Query()
	pageNum, err := strconv.Atoi(q.Get("page"))
	if err != nil || pageNum < 1 {
		pageNum = 1
	}
	size, err := strconv.Atoi(q.Get("pageSize"))
	if err != nil || size < 1 {
		size = 20
	}
	size = min(size, 100)

	start := min((pageNum-1)*size, len(all))
	end := min(start+size, len(all))

	items := all[start:end]
	if items == nil {
		items = []T{}
	}

	return page[T]{
		Items:    items,
		Page:     pageNum,
		PageSize: size,
		Total:    len(all),
		HasNext:  end < len(all),
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		drainRequestBody(r)
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

type envelope struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(envelope{Data: data, Message: message}); err != nil {
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// drainRequestBody discards up to 5MB of an unread body so the connection can
// be reused.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.CopyN(io.Discard, r.Body, 5<<20)
	}
}
