// Package link implements the typed, bounded single-producer/single-consumer
// ring that carries messages between two port endpoints. It generalizes the
// fixed-size kernel ring buffer pattern (see the ringbuf tap this package
// replaces) from a byte-struct tap into a typed message ring with two read
// disciplines: LatestWins (drop-oldest, for video) and Ordered
// (reject-on-full, for audio/control).
package link

import (
	"sync"

	"github.com/fluxcore/streamgraph/internal/message"
	"github.com/fluxcore/streamgraph/internal/metrics"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

// ID identifies a link within the property graph.
type ID uint64

// State is a link's lifecycle stage.
type State int

const (
	Declared State = iota
	Wired
	Torn
)

func (s State) String() string {
	switch s {
	case Declared:
		return "declared"
	case Wired:
		return "wired"
	case Torn:
		return "torn"
	default:
		return "unknown"
	}
}

// Stats are the counters §4.2/§8 require be observable.
type Stats struct {
	Written  uint64
	Read     uint64
	Dropped  uint64 // LatestWins: unread element overwritten by a write into a full ring
	Rejected uint64 // Ordered: write refused because the ring was full
}

// Link is a bounded ring transporting message.Message values from exactly
// one producer to one consumer endpoint. Multi-consumer fan-out is achieved
// by the compiler instantiating one Link per consumer edge, with the
// producer writing the same message to each.
type Link struct {
	id         ID
	schema     message.Schema
	capacity   int
	discipline message.Discipline

	mu    sync.Mutex
	buf   []message.Message
	head  int // index of oldest unread element
	count int
	stats Stats

	consumerWake *wakeup.Bus
	producerPort string

	metricsRec  *metrics.Recorder
	metricsName string
}

// New creates a link of the given capacity and discipline. Capacity is fixed
// for the life of the link.
func New(id ID, schema message.Schema, capacity int, discipline message.Discipline) *Link {
	if capacity < 1 {
		capacity = 1
	}
	return &Link{
		id:         id,
		schema:     schema,
		capacity:   capacity,
		discipline: discipline,
		buf:        make([]message.Message, capacity),
	}
}

func (l *Link) ID() ID                        { return l.id }
func (l *Link) Schema() message.Schema        { return l.schema }
func (l *Link) Capacity() int                 { return l.capacity }
func (l *Link) Discipline() message.Discipline { return l.discipline }

// ConnectConsumer installs the consumer's wakeup bus and the producing port
// name used to tag DataAvailable events. Called by the compiler during WIRE,
// or during the consumer's SETUP when its bus did not exist yet at WIRE.
func (l *Link) ConnectConsumer(bus *wakeup.Bus, producerPort string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumerWake = bus
	l.producerPort = producerPort
}

// ConnectProducer is a symmetric no-op hook kept for interface parity with
// the compiler's WIRE phase; the link itself needs no producer-side state
// beyond what Write already provides, but processors may use the call as
// their cue that the port is live.
func (l *Link) ConnectProducer() {}

// SetMetrics attaches the Recorder that Write/Read report to, labeled under
// name (the graph link id). Called by the compiler during WIRE; a link with
// no Recorder attached (rec == nil, the default) simply skips reporting.
func (l *Link) SetMetrics(rec *metrics.Recorder, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metricsRec = rec
	l.metricsName = name
}

// Write is non-blocking. Under LatestWins, a full ring evicts the oldest
// unread element and appends msg, and the write always succeeds. Under
// Ordered, a full ring rejects the write and increments Rejected —
// this is the reference choice among the two backpressure behaviors the
// source exhibited, documented in DESIGN.md.
func (l *Link) Write(msg message.Message) bool {
	l.mu.Lock()
	beforeDropped := l.stats.Dropped
	beforeRejected := l.stats.Rejected
	ok := l.writeLocked(msg)
	dropped := l.stats.Dropped > beforeDropped
	rejected := l.stats.Rejected > beforeRejected
	wake := ok
	rec := l.metricsRec
	name := l.metricsName
	l.mu.Unlock()

	if rec != nil {
		rec.LinkWrite(name, dropped, rejected)
	}
	if wake && l.consumerWake != nil {
		l.consumerWake.NotifyData(l.producerPort)
	}
	return ok
}

func (l *Link) writeLocked(msg message.Message) bool {
	if l.count < l.capacity {
		idx := (l.head + l.count) % l.capacity
		l.buf[idx] = msg
		l.count++
		l.stats.Written++
		return true
	}

	switch l.discipline {
	case message.LatestWins:
		// Evict the oldest unread element, append the new one.
		l.buf[l.head] = msg
		l.head = (l.head + 1) % l.capacity
		l.stats.Written++
		l.stats.Dropped++
		return true
	default: // Ordered
		l.stats.Rejected++
		return false
	}
}

// Read returns the next logical element under the link's discipline: under
// LatestWins the newest buffered element, discarding any older unread ones
// (which are not counted in Dropped); under Ordered/FIFO the oldest.
// Returns ok=false when empty.
func (l *Link) Read() (message.Message, bool) {
	l.mu.Lock()
	if l.count == 0 {
		l.mu.Unlock()
		return nil, false
	}

	var msg message.Message
	if l.discipline == message.LatestWins {
		// Jump straight to the newest element, discarding any staler ones
		// still buffered, then clear the ring.
		newestIdx := (l.head + l.count - 1) % l.capacity
		msg = l.buf[newestIdx]
		l.head = 0
		l.count = 0
	} else {
		msg = l.buf[l.head]
		l.head = (l.head + 1) % l.capacity
		l.count--
	}
	l.stats.Read++
	rec := l.metricsRec
	name := l.metricsName
	l.mu.Unlock()

	if rec != nil {
		rec.LinkRead(name)
	}
	return msg, true
}

// ReadAll drains the ring in FIFO order. Used by sinks that must not drop,
// e.g. audio output.
func (l *Link) ReadAll() []message.Message {
	l.mu.Lock()
	out := make([]message.Message, 0, l.count)
	for l.count > 0 {
		out = append(out, l.buf[l.head])
		l.head = (l.head + 1) % l.capacity
		l.count--
		l.stats.Read++
	}
	rec := l.metricsRec
	name := l.metricsName
	l.mu.Unlock()

	if rec != nil {
		for range out {
			rec.LinkRead(name)
		}
	}
	return out
}

// Len reports the number of unread elements currently buffered.
func (l *Link) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Stats returns a snapshot of the link's counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
