package spotlight

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HubBroadcaster is implemented by realtime.Hub.
type HubBroadcaster interface {
	BroadcastToClassroomAndPublish(classroomID uuid.UUID, event string, payload interface{})
}

// EventRecorder persists spotlight events (implemented by Repository).
type EventRecorder interface {
	Record(ctx context.Context, classroomID uuid.UUID, ev Event) error
}

// EventCounter counts spotlight events (implemented by metrics.Metrics).
type EventCounter interface {
	SpotlightEvent(kind string, expired bool)
}

// BroadcastNotifier pushes every event and the resulting state to the classroom's clients.
// Events are spotlight_add, spotlight_remove, spotlight_extend, spotlight_rotate, followed by spotlight_state.
// The hub publishes to Redis, so sessions should reach it through an AsyncNotifier.
func BroadcastNotifier(hub HubBroadcaster) Notifier {
	return NotifierFunc(func(classroomID uuid.UUID, ev Event, snap Snapshot) {
		hub.BroadcastToClassroomAndPublish(classroomID, "spotlight_"+string(ev.Kind), ev)
		hub.BroadcastToClassroomAndPublish(classroomID, "spotlight_state", snap)
	})
}

// HistoryNotifier writes events through rec with a bounded timeout per write.
func HistoryNotifier(rec EventRecorder, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NotifierFunc(func(classroomID uuid.UUID, ev Event, _ Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Record(ctx, classroomID, ev); err != nil {
			logger.Warn("record spotlight event failed", zap.Error(err),
				zap.String("classroom_id", classroomID.String()), zap.String("kind", string(ev.Kind)))
		}
	})
}

// MetricsNotifier counts events by kind.
func MetricsNotifier(c EventCounter) Notifier {
	return NotifierFunc(func(_ uuid.UUID, ev Event, _ Snapshot) {
		c.SpotlightEvent(string(ev.Kind), ev.Expired)
	})
}

type notification struct {
	classroomID uuid.UUID
	ev          Event
	snap        Snapshot
}

// AsyncNotifier hands events to a slower notifier on its own goroutine so the session lock is never
// held across network calls. Events are dropped (and logged) when the buffer is full.
type AsyncNotifier struct {
	next   Notifier
	queue  chan notification
	logger *zap.Logger
	done   chan struct{}
}

// NewAsyncNotifier wraps next with a buffer of size slots. Call Run to start delivery.
func NewAsyncNotifier(next Notifier, size int, logger *zap.Logger) *AsyncNotifier {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncNotifier{next: next, queue: make(chan notification, size), logger: logger, done: make(chan struct{})}
}

// Notify enqueues without blocking.
func (a *AsyncNotifier) Notify(classroomID uuid.UUID, ev Event, snap Snapshot) {
	select {
	case a.queue <- notification{classroomID: classroomID, ev: ev, snap: snap}:
	default:
		a.logger.Warn("spotlight notification dropped", zap.String("classroom_id", classroomID.String()), zap.String("kind", string(ev.Kind)))
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (a *AsyncNotifier) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case n := <-a.queue:
					a.next.Notify(n.classroomID, n.ev, n.snap)
				default:
					return
				}
			}
		case n := <-a.queue:
			a.next.Notify(n.classroomID, n.ev, n.snap)
		}
	}
}

// Done is closed when Run returns.
func (a *AsyncNotifier) Done() <-chan struct{} { return a.done }
