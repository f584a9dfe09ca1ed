package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Bus re-publishes strategy-scoped events to external listeners (the UI,
// the HTTP/WS layer). It is grounded on the teacher's EventBus but is an
// injected per-strategy collaborator rather than a process-wide singleton
// — see the Design Notes on global singletons.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]*busSubscription
	all         []*busSubscription

	eventChan   chan Event
	workerCount int

	eventsPublished  atomic.Int64
	eventsProcessed  atomic.Int64
	eventsDropped    atomic.Int64
	processingErrors atomic.Int64

	latencyMu  sync.Mutex
	latencies  []int64
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// BusConfig configures worker count and channel buffer.
type BusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultBusConfig returns sensible defaults, matching the teacher's
// DefaultEventBusConfig but scaled down: a single strategy's event volume
// is orders of magnitude lower than the teacher's live multi-symbol feed.
func DefaultBusConfig() BusConfig {
	return BusConfig{NumWorkers: 4, BufferSize: 4096}
}

// Handler processes one republished event.
type Handler func(Event) error

type busSubscription struct {
	id      string
	kind    Kind
	handler Handler
	active  atomic.Bool
}

// NewBus starts a Bus with its worker pool running.
func NewBus(logger *zap.Logger, cfg BusConfig) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[Kind][]*busSubscription),
		eventChan:   make(chan Event, cfg.BufferSize),
		workerCount: cfg.NumWorkers,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		latencies:   make([]int64, 0, 1024),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case e := <-b.eventChan:
			start := time.Now()
			b.dispatch(e)
			b.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	subs := append([]*busSubscription(nil), b.subscribers[e.Kind]...)
	all := append([]*busSubscription(nil), b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(s, e)
	}
	for _, s := range all {
		b.invoke(s, e)
	}
	b.eventsProcessed.Add(1)
}

func (b *Bus) invoke(s *busSubscription, e Event) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.processingErrors.Add(1)
			b.logger.Error("bus handler panic",
				zap.String("subscription_id", s.id),
				zap.String("kind", string(e.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	if err := s.handler(e); err != nil {
		b.processingErrors.Add(1)
		b.logger.Warn("bus handler error",
			zap.String("subscription_id", s.id),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}

func (b *Bus) trackLatency(ns int64) {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	b.latencies = append(b.latencies, ns)
	if len(b.latencies) > 10000 {
		b.latencies = b.latencies[5000:]
	}
	if ns > b.maxLatency.Load() {
		b.maxLatency.Store(ns)
	}
	avg := b.avgLatency.Load()
	b.avgLatency.Store((avg*99 + ns) / 100)
}

// Subscribe registers handler for events of kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription2 {
	sub := &busSubscription{id: genSubID(), kind: kind, handler: handler}
	sub.active.Store(true)
	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	b.mu.Unlock()
	return &Subscription2{bus: b, sub: sub}
}

// SubscribeAll registers handler for every event published on the bus.
func (b *Bus) SubscribeAll(handler Handler) *Subscription2 {
	sub := &busSubscription{id: genSubID(), handler: handler}
	sub.active.Store(true)
	b.mu.Lock()
	b.all = append(b.all, sub)
	b.mu.Unlock()
	return &Subscription2{bus: b, sub: sub}
}

// Subscription2 is a handle a caller uses to cancel a Bus subscription.
// Named to avoid colliding with the graph-edge Subscription type in
// broadcaster.go, which models a different concept (input-handle binding
// vs. external-bus fan-out).
type Subscription2 struct {
	bus *Bus
	sub *busSubscription
}

// Unsubscribe deactivates the subscription; in-flight dispatches still
// observe it briefly but no further events are delivered once this returns.
func (s *Subscription2) Unsubscribe() { s.sub.active.Store(false) }

// Publish enqueues e without blocking; if the buffer is full the event is
// dropped and counted.
func (b *Bus) Publish(e Event) {
	b.eventsPublished.Add(1)
	select {
	case b.eventChan <- e:
	default:
		b.eventsDropped.Add(1)
	}
}

// PublishSync dispatches e on the calling goroutine, bypassing the queue.
func (b *Bus) PublishSync(e Event) {
	b.eventsPublished.Add(1)
	b.dispatch(e)
}

// Stats is a point-in-time snapshot of bus throughput and latency.
type Stats struct {
	EventsPublished  int64
	EventsProcessed  int64
	EventsDropped    int64
	ProcessingErrors int64
	AvgLatencyNs     int64
	MaxLatencyNs     int64
	P99LatencyNs     int64
}

// GetStats returns current bus statistics.
func (b *Bus) GetStats() Stats {
	return Stats{
		EventsPublished:  b.eventsPublished.Load(),
		EventsProcessed:  b.eventsProcessed.Load(),
		EventsDropped:    b.eventsDropped.Load(),
		ProcessingErrors: b.processingErrors.Load(),
		AvgLatencyNs:     b.avgLatency.Load(),
		MaxLatencyNs:     b.maxLatency.Load(),
		P99LatencyNs:     b.p99LatencyNs(),
	}
}

func (b *Bus) p99LatencyNs() int64 {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	if len(b.latencies) == 0 {
		return 0
	}
	sorted := append([]int64(nil), b.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop cancels the worker pool and waits up to 5s for the workers to exit
// (events still queued are not delivered), matching the
// teacher's EventBus.Stop timeout.
func (b *Bus) Stop() {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("bus stop timed out waiting for workers")
	}
}

var subCounter atomic.Int64

func genSubID() string {
	n := subCounter.Add(1)
	return "sub-" + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
