// Package audit records one structured log entry per API request: who made
// it, what it touched and how it ended.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Level is the level audit entries are written at. It sits above every
// standard level so that audit output survives any configured filter.
const (
	Level     = zerolog.Level(20)
	LevelName = "audit"
)

type key struct{}

// Entry is the audit record for a single request. Handlers fill in what they
// learn; the middleware writes it when the request completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	RequestID string

	Authorized bool
	User       string
	AuthExpiry time.Time

	// Resource is the kind of object the request acted on, such as "cart"
	// or "deal".
	Resource   string
	ResourceID int
	Quantity   int
	TotalCents int

	Error string
}

// MarshalZerologObject groups the entry into request, authorization and
// resource dictionaries, leaving out groups with no content.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent).
		Str("requestID", e.RequestID),
	)

	NewOptionalEvent().
		Bool("authorized", e.Authorized).
		Str("user", e.User).
		Expiry(e.AuthExpiry, time.Now()).
		Set(ev, "authorization")

	NewOptionalEvent().
		Str("type", e.Resource).
		Int("id", e.ResourceID).
		Int("quantity", e.Quantity).
		Int("totalCents", e.TotalCents).
		Set(ev, "resource")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin captures the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.SourceIP = r.RemoteAddr
	e.UserAgent = r.UserAgent()
	e.RequestID = r.Header.Get("X-Request-ID")
}

// End returns a function to be deferred that writes the entry. A panic in
// the handler is recorded on the entry and then resumed.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)

			defer panic(r)
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")
	}
}

// Context returns the entry stored in ctx, adding a new one if there is
// none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the entry for the current request. Outside of the middleware
// the entry is detached and never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes an audit entry for every request it wraps.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			defer entry.End(ctx)()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))

			entry.Status = sw.status
			if entry.Status == 0 {
				entry.Status = http.StatusOK
			}
		})
	}
}

// MarshalLevel names the audit level in log output, deferring to zerolog for
// every other level. Assign it to zerolog.LevelFieldMarshalFunc.
func MarshalLevel(l zerolog.Level) string {
	if l == Level {
		return LevelName
	}
	return l.String()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
