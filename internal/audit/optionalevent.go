package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// OptionalEvent is a dictionary that is only attached to its parent once a
// field has been written, so groups with nothing to say are left out.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent() *OptionalEvent {
	return &OptionalEvent{}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev
}

// Set attaches the dictionary to parent under key if any field was written.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Bool(key string, val bool) *OptionalEvent {
	oe.event().Bool(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}

// Expiry writes the time and the duration remaining until it. Zero is
// skipped.
func (oe *OptionalEvent) Expiry(val time.Time, now time.Time) *OptionalEvent {
	if val.IsZero() {
		return oe
	}
	oe.event().
		Time("expiry", val.UTC()).
		Dur("expiryRemaining", val.Sub(now).Round(time.Second))
	oe.modified = true
	return oe
}
