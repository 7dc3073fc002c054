package announcer

import (
	"log/slog"
	"sync"

	"bindery/internal/logging"
)

// ListenerBuffer is the number of frames a listener may fall behind before it
// is dropped.
const ListenerBuffer = 10

// Listener receives rendered frames until it is dropped or removed.
type Listener struct {
	id uint64
	ch chan []byte
}

// ID identifies the listener for Unlisten.
func (l *Listener) ID() uint64 { return l.id }

// Frames is closed when the listener is dropped or removed.
func (l *Listener) Frames() <-chan []byte { return l.ch }

// Announcer broadcasts frames to registered listeners.
type Announcer struct {
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*Listener
	order     []uint64
	dropped   uint64
}

// New constructs an Announcer. A nil logger discards output.
func New(logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Announcer{
		logger:    logging.NewComponentLogger(logger, "announcer"),
		listeners: make(map[uint64]*Listener),
	}
}

// Listen registers a new listener.
func (a *Announcer) Listen() *Listener {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	l := &Listener{id: a.nextID, ch: make(chan []byte, ListenerBuffer)}
	a.listeners[l.id] = l
	a.order = append(a.order, l.id)
	return l
}

// Unlisten removes a listener and closes its channel. Unknown or already
// dropped listeners are ignored.
func (a *Announcer) Unlisten(l *Listener) {
	if l == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(l.id)
}

// Announce renders data as an SSE frame under name and offers it to every
// listener without blocking.
func (a *Announcer) Announce(name string, data any) {
	frame, err := Frame(name, data)
	if err != nil {
		logging.ErrorWithContext(a.logger, "announce failed", "announce_failed", logging.String("event", name), logging.Error(err))
		return
	}
	a.Broadcast(frame)
}

// Broadcast offers a rendered frame to every listener. Listeners with a full
// buffer are dropped.
func (a *Announcer) Broadcast(frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range append([]uint64(nil), a.order...) {
		l := a.listeners[id]
		select {
		case l.ch <- frame:
		default:
			a.removeLocked(id)
			a.dropped++
			logging.WarnWithContext(a.logger, "listener dropped", "listener_dropped",
				logging.Int64("listener_id", int64(id)),
				logging.String(logging.FieldErrorHint, "client stopped reading the event stream"),
				logging.String(logging.FieldImpact, "client must reconnect to resume events"),
			)
		}
	}
}

// Update announces a job_update for asin.
func (a *Announcer) Update(asin, statusText string, progress int) {
	a.Announce(EventJobUpdate, JobUpdate{ASIN: asin, StatusText: statusText, Progress: progress})
}

// Listeners reports how many listeners are registered.
func (a *Announcer) Listeners() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

// Dropped reports how many listeners have been dropped for overflow.
func (a *Announcer) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *Announcer) removeLocked(id uint64) {
	l, ok := a.listeners[id]
	if !ok {
		return
	}
	delete(a.listeners, id)
	for i, existing := range a.order {
		if existing == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	close(l.ch)
}
