// Package testutil provides test doubles shared by the service tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// Event is one call recorded by RecordingPublisher.
type Event struct {
	Type string
	Data interface{}
}

// RecordingPublisher captures published events in order. It satisfies
// realtime.Publisher.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewRecordingPublisher creates an empty recorder.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// Publish records the event.
func (p *RecordingPublisher) Publish(_ context.Context, eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Type: eventType, Data: data})
}

// Events returns a copy of everything published so far.
func (p *RecordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types lists the published event types in order.
func (p *RecordingPublisher) Types() []string {
	events := p.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// Count returns how many events of eventType were published.
func (p *RecordingPublisher) Count(eventType string) int {
	n := 0
	for _, e := range p.Events() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Clock is a manually advanced time source for services with a now hook.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts the clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock forward by whole days.
func (c *Clock) AdvanceDays(days int) {
	c.Advance(time.Duration(days) * 24 * time.Hour)
}
