// Package notify drains the transactional outbox and fans events out to
// interested listeners. Delivery is best-effort and at-most-once per event;
// the state machine never waits on it.
package notify

import (
	"context"
	"log"
	"time"
)

// Event is one fanout unit read from the outbox.
type Event struct {
	ID      string
	Topic   string
	Payload []byte
}

// Sink receives events. A sink error marks the row for a bounded number of
// further attempts, after which the row is declared dead.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Source is the outbox access the dispatcher needs.
type Source interface {
	NextPending(ctx context.Context, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, maxAttempts int) error
}

// Dispatcher polls the outbox on an interval and pushes pending events into
// the sink.
type Dispatcher struct {
	source      Source
	sink        Sink
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(source Source, sink Sink, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		source:      source,
		sink:        sink,
		interval:    interval,
		batchSize:   50,
		maxAttempts: 5,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil {
				log.Printf("notify: drain outbox: %v", err)
			}
		}
	}
}

// Drain delivers one batch of pending events.
func (d *Dispatcher) Drain(ctx context.Context) error {
	events, err := d.source.NextPending(ctx, d.batchSize)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := d.sink.Deliver(ctx, ev); err != nil {
			log.Printf("notify: deliver %s (%s): %v", ev.ID, ev.Topic, err)
			if err := d.source.MarkFailed(ctx, ev.ID, d.maxAttempts); err != nil {
				return err
			}
			continue
		}
		if err := d.source.MarkProcessed(ctx, ev.ID); err != nil {
			return err
		}
	}
	return nil
}

// LogSink writes events to the process log. It stands in for push channels
// (websockets, email) owned by other services.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, ev Event) error {
	log.Printf("notify: %s %s", ev.Topic, ev.Payload)
	return nil
}
