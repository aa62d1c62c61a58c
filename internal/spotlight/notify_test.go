package spotlight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) BroadcastToClassroomAndPublish(_ uuid.UUID, event string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

type fakeRecorder struct {
	mu    sync.Mutex
	kinds []EventKind
	err   error
}

func (r *fakeRecorder) Record(ctx context.Context, _ uuid.UUID, ev Event) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, ev.Kind)
	return r.err
}

type fakeCounter struct {
	counts map[string]int
}

func (c *fakeCounter) SpotlightEvent(kind string, expired bool) {
	if expired {
		kind += "_expired"
	}
	c.counts[kind]++
}

func TestBroadcastNotifier(t *testing.T) {
	hub := &fakeHub{}
	s := NewStore(Config{MaxActive: 1, QueueEnabled: true})
	n := BroadcastNotifier(hub)
	s.OnEvent(func(ev Event) { n.Notify(uuid.New(), ev, s.Snapshot()) })

	p := uuid.New()
	_, _ = s.Add(p, KindManual, "", 0, "")
	_ = s.Remove(p)

	assert.Equal(t, []string{"spotlight_add", "spotlight_state", "spotlight_remove", "spotlight_state"}, hub.events)
}

func TestMetricsNotifier(t *testing.T) {
	c := &fakeCounter{counts: map[string]int{}}
	s := NewStore(Config{MaxActive: 2})
	n := MetricsNotifier(c)
	s.OnEvent(func(ev Event) { n.Notify(uuid.Nil, ev, Snapshot{}) })

	_, _ = s.Add(uuid.New(), KindManual, "", 1, "")
	_, _ = s.Add(uuid.New(), KindManual, "", 5, "")
	s.Tick()

	assert.Equal(t, map[string]int{"add": 2, "remove_expired": 1}, c.counts)
}

func TestHistoryNotifierLogsAndContinues(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("insert failed")}
	n := HistoryNotifier(rec, nil)

	n.Notify(uuid.New(), Event{Kind: EventAdd}, Snapshot{})
	n.Notify(uuid.New(), Event{Kind: EventRotate}, Snapshot{})

	assert.Equal(t, []EventKind{EventAdd, EventRotate}, rec.kinds)
}

func TestAsyncNotifierDeliversInOrder(t *testing.T) {
	rec := &recordingNotifier{}
	async := NewAsyncNotifier(rec, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go async.Run(ctx)

	for _, k := range []EventKind{EventAdd, EventExtend, EventRotate, EventRemove} {
		async.Notify(uuid.New(), Event{Kind: k}, Snapshot{})
	}
	assert.Eventually(t, func() bool { return len(rec.kinds()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []EventKind{EventAdd, EventExtend, EventRotate, EventRemove}, rec.kinds())

	cancel()
	select {
	case <-async.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAsyncNotifierDropsWhenFull(t *testing.T) {
	rec := &recordingNotifier{}
	async := NewAsyncNotifier(rec, 2, nil)

	// Not running yet: the third notification does not fit.
	for i := 0; i < 3; i++ {
		async.Notify(uuid.New(), Event{Kind: EventAdd}, Snapshot{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	async.Run(ctx)

	require.Len(t, rec.kinds(), 2, "queued notifications are drained on shutdown")
}

type stalledHub struct {
	release chan struct{}
	fakeHub
}

func (h *stalledHub) BroadcastToClassroomAndPublish(classroomID uuid.UUID, event string, payload interface{}) {
	<-h.release
	h.fakeHub.BroadcastToClassroomAndPublish(classroomID, event, payload)
}

func TestSlowBroadcastDoesNotHoldSession(t *testing.T) {
	hub := &stalledHub{release: make(chan struct{})}
	broadcast := NewAsyncNotifier(BroadcastNotifier(hub), 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcast.Run(ctx)

	s := NewSession(uuid.New(), DefaultConfig(), nil, broadcast)
	p := uuid.New()
	done := make(chan error, 1)
	go func() {
		if _, err := s.Add(p, KindAchievement, "gold star", 0, ""); err != nil {
			done <- err
			return
		}
		done <- s.Remove(p)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session blocked on the hub")
	}

	close(hub.release)
	assert.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.events) == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"spotlight_add", "spotlight_state", "spotlight_remove", "spotlight_state"}, hub.events)
}
