package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/metrics"
)

const deliverTimeout = 5 * time.Second

// Backend delivers a record somewhere outside the process.
type Backend interface {
	Name() string
	Deliver(ctx context.Context, rec Record) error
}

// Emitter queues records and hands each one to every backend from a single
// worker goroutine. A full queue drops the record.
type Emitter struct {
	backends []Backend
	queue    chan Record
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewEmitter(queueSize int, backends ...Backend) *Emitter {
	return &Emitter{
		backends: backends,
		queue:    make(chan Record, queueSize),
		done:     make(chan struct{}),
	}
}

func (e *Emitter) Start() {
	go e.run()
}

func (e *Emitter) Publish(rec Record) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- rec:
	default:
		metrics.EventsDroppedTotal.Inc()
		log.Warn().Str("topic", rec.Topic).Msg("event queue full, dropping record")
	}
}

// Close stops accepting records and waits for the queue to drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
}

func (e *Emitter) run() {
	defer close(e.done)
	for rec := range e.queue {
		e.deliver(rec)
	}
}

func (e *Emitter) deliver(rec Record) {
	for _, b := range e.backends {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := b.Deliver(ctx, rec); err != nil {
			log.Warn().
				Err(err).
				Str("backend", b.Name()).
				Str("topic", rec.Topic).
				Msg("event delivery failed")
		}
		cancel()
	}
}
