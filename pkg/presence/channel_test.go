package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func TestTopic(t *testing.T) {
	assert.Equal(t, "room:abc", Topic("abc"))
}

func TestFindRole(t *testing.T) {
	entries := []Entry{
		{Role: RoleGuest, UserID: "g1"},
		{Role: RoleHost, UserID: "h1"},
		{Role: RoleHost, UserID: "h2"},
	}

	host, ok := FindRole(entries, RoleHost)
	require.True(t, ok)
	assert.Equal(t, "h1", host.UserID)

	_, ok = FindRole(entries[:1], RoleHost)
	assert.False(t, ok)
}

func TestChannel_presenceConverges(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.NewHubOptions{})

	host := NewChannel("r1")
	guest := NewChannel("r1")

	hostSyncs := make(chan []Entry, 16)
	guestSyncs := make(chan []Entry, 16)
	host.OnPresenceSync(func(entries []Entry) { hostSyncs <- entries })
	guest.OnPresenceSync(func(entries []Entry) { guestSyncs <- entries })

	host.Track(ctx, Entry{Role: RoleHost, UserID: "h1", DisplayName: "Hana"})
	require.NoError(t, host.Subscribe(ctx, hub))
	guest.Track(ctx, Entry{Role: RoleGuest, UserID: "g1"})
	require.NoError(t, guest.Subscribe(ctx, hub))

	want := []Entry{
		{Role: RoleHost, UserID: "h1", DisplayName: "Hana"},
		{Role: RoleGuest, UserID: "g1"},
	}
	waitForEntries(t, hostSyncs, want)
	waitForEntries(t, guestSyncs, want)
}

func TestChannel_broadcastClasses(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.NewHubOptions{})

	host := NewChannel("r1")
	guest := NewChannel("r1")
	require.NoError(t, host.Subscribe(ctx, hub))

	states := make(chan json.RawMessage, 4)
	actions := make(chan json.RawMessage, 4)
	guest.OnBroadcast(EventState, func(payload json.RawMessage) { states <- payload })
	guest.OnBroadcast(EventGuestAction, func(payload json.RawMessage) { actions <- payload })
	hostActions := make(chan json.RawMessage, 4)
	host.OnBroadcast(EventGuestAction, func(payload json.RawMessage) { hostActions <- payload })
	require.NoError(t, guest.Subscribe(ctx, hub))

	require.NoError(t, host.Broadcast(ctx, EventState, json.RawMessage(`{"tick":1}`)))
	require.NoError(t, guest.Broadcast(ctx, EventGuestAction, json.RawMessage(`{"fire":true}`)))

	select {
	case payload := <-states:
		assert.JSONEq(t, `{"tick":1}`, string(payload))
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for state")
	}
	select {
	case payload := <-hostActions:
		assert.JSONEq(t, `{"fire":true}`, string(payload))
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for action")
	}
	assert.Empty(t, actions)
}

func TestChannel_presenceLeave(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.NewHubOptions{})

	host := NewChannel("r1")
	guest := NewChannel("r1")
	leaves := make(chan []Entry, 4)
	guest.OnPresenceLeave(func(entries []Entry) { leaves <- entries })

	host.Track(ctx, Entry{Role: RoleHost, UserID: "h1"})
	require.NoError(t, host.Subscribe(ctx, hub))
	require.NoError(t, guest.Subscribe(ctx, hub))

	require.NoError(t, host.Leave(ctx))
	require.NoError(t, host.Leave(ctx))

	select {
	case entries := <-leaves:
		assert.Equal(t, []Entry{{Role: RoleHost, UserID: "h1"}}, entries)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for leave")
	}
	assert.Equal(t, 1, hub.Subscribers(Topic("r1")))
}

func TestChannel_Leave(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub(memory.NewHubOptions{})

	t.Run("before subscribe", func(t *testing.T) {
		c := NewChannel("r1")
		assert.NoError(t, c.Leave(ctx))
		assert.ErrorIs(t, c.Subscribe(ctx, hub), ErrLeft)
		assert.Equal(t, 0, hub.Subscribers(c.Topic()))
	})

	t.Run("broadcast after leave is a no-op", func(t *testing.T) {
		c := NewChannel("r2")
		require.NoError(t, c.Subscribe(ctx, hub))
		require.NoError(t, c.Leave(ctx))
		assert.NoError(t, c.Broadcast(ctx, EventState, json.RawMessage(`{}`)))
		assert.Equal(t, 0, hub.Subscribers(c.Topic()))
	})

	t.Run("subscribe twice", func(t *testing.T) {
		c := NewChannel("r3")
		require.NoError(t, c.Subscribe(ctx, hub))
		assert.ErrorIs(t, c.Subscribe(ctx, hub), ErrAlreadySubscribed)
		require.NoError(t, c.Leave(ctx))
	})
}

func TestChannel_BroadcastUnsubscribed(t *testing.T) {
	c := NewChannel("r1")
	assert.NoError(t, c.Broadcast(context.Background(), EventState, json.RawMessage(`{}`)))
}

func TestChannel_OnBroadcastUnknownClass(t *testing.T) {
	c := NewChannel("r1")
	unregister := c.OnBroadcast("chat", func(json.RawMessage) {})
	assert.NotPanics(t, unregister)
}

func TestChannel_retracksAfterResubscribe(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{tracks: make(chan json.RawMessage, 4)}

	c := NewChannel("r1")
	statuses := make(chan pubsub.Status, 2)
	c.OnStatus(func(status pubsub.Status) { statuses <- status })

	c.Track(ctx, Entry{Role: RoleGuest, UserID: "g1"})
	require.NoError(t, c.Subscribe(ctx, transport))
	assert.JSONEq(t, `{"role":"guest","userId":"g1"}`, string(<-transport.tracks))

	transport.emit(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusSubscribed})

	select {
	case meta := <-transport.tracks:
		assert.JSONEq(t, `{"role":"guest","userId":"g1"}`, string(meta))
	case <-time.After(waitTimeout):
		t.Fatal("presence was not tracked again")
	}
	assert.Equal(t, pubsub.StatusSubscribed, <-statuses)
}

func TestChannel_ignoresMalformedEvents(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{tracks: make(chan json.RawMessage, 4)}

	c := NewChannel("r1")
	var syncs [][]Entry
	var states int
	c.OnPresenceSync(func(entries []Entry) { syncs = append(syncs, entries) })
	c.OnBroadcast(EventState, func(json.RawMessage) { states++ })
	require.NoError(t, c.Subscribe(ctx, transport))

	transport.emit(pubsub.Event{
		Type: pubsub.EventPresenceSync,
		Presences: []pubsub.Presence{
			{Key: "a", Meta: json.RawMessage(`not json`)},
			{Key: "b", Meta: json.RawMessage(`{"role":"host","userId":"h1"}`)},
		},
	})
	transport.emit(pubsub.Event{Type: pubsub.EventBroadcast, Name: "state", Payload: json.RawMessage(`nope`)})
	transport.emit(pubsub.Event{Type: pubsub.EventBroadcast, Name: "chat", Payload: json.RawMessage(`{"type":"chat","payload":{}}`)})

	require.Len(t, syncs, 1)
	assert.Equal(t, []Entry{{Role: RoleHost, UserID: "h1"}}, syncs[0])
	assert.Equal(t, 0, states)
}

func waitForEntries(t *testing.T, syncs <-chan []Entry, want []Entry) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case entries := <-syncs:
			if assert.ObjectsAreEqual(want, entries) {
				return
			}
		case <-deadline:
			t.Fatalf("presence never converged to %v", want)
		}
	}
}

// fakeTransport hands events to the handler synchronously.
type fakeTransport struct {
	lock    sync.Mutex
	handler pubsub.Handler
	tracks  chan json.RawMessage
}

func (f *fakeTransport) Subscribe(ctx context.Context, topic string, handler pubsub.Handler) (pubsub.Subscription, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.handler = handler
	return &fakeSubscription{transport: f}, nil
}

func (f *fakeTransport) emit(event pubsub.Event) {
	f.lock.Lock()
	handler := f.handler
	f.lock.Unlock()
	handler(event)
}

type fakeSubscription struct {
	transport *fakeTransport
}

func (s *fakeSubscription) Key() string { return "fake" }

func (s *fakeSubscription) Track(ctx context.Context, meta json.RawMessage) error {
	s.transport.tracks <- meta
	return nil
}

func (s *fakeSubscription) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	return nil
}

func (s *fakeSubscription) Unsubscribe(ctx context.Context) error { return nil }
