package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SetOnlineNotifies(t *testing.T) {
	m := NewMonitor(true)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.SetOnline(false)
	assert.False(t, m.Online())
	assert.False(t, <-ch)

	m.SetOnline(true)
	assert.True(t, <-ch)
}

func TestMonitor_NoNotificationWithoutChange(t *testing.T) {
	m := NewMonitor(true)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.SetOnline(true)

	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v", v)
	default:
	}
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := NewMonitor(true)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(false)

	assert.False(t, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected queued notification %v", v)
	default:
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(false)
	ch, unsubscribe := m.Subscribe()
	require.Equal(t, 1, m.Subscribers())

	unsubscribe()
	unsubscribe()

	assert.Zero(t, m.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	// changes after unsubscribing must not panic on the closed channel
	m.SetOnline(true)
}
