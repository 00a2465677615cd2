package usecasetest

import (
	"context"
	"sync"
	"time"

	"github.com/zapp/backend/internal/entities"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder collects published events.
type Recorder struct {
	mu     sync.Mutex
	events []entities.Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, events ...entities.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return r.Err
}

func (r *Recorder) Events() []entities.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.Event(nil), r.events...)
}

// Types returns the recorded event types in publication order.
func (r *Recorder) Types() []entities.EventType {
	events := r.Events()
	types := make([]entities.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
