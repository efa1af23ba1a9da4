// Package events publishes domain notifications about browsing and the ledger.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Topic names an event stream
type Topic string

const (
	TopicSelectionChanged Topic = "selection_changed"
	TopicCommitSucceeded  Topic = "commit_succeeded"
	TopicCommitFailed     Topic = "commit_failed"
	TopicAggregateUpdated Topic = "aggregate_updated"
	TopicLedgerChanged    Topic = "ledger_changed"
)

// AllTopics lists every topic a publisher may need to declare
func AllTopics() []Topic {
	return []Topic{TopicSelectionChanged, TopicCommitSucceeded, TopicCommitFailed, TopicAggregateUpdated, TopicLedgerChanged}
}

// Event is one notification. Data must be JSON-serializable.
type Event struct {
	Topic      Topic     `json:"topic"`
	UserID     string    `json:"user_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// New stamps an event with the current time
func New(topic Topic, userID string, data any) Event {
	return Event{Topic: topic, UserID: userID, OccurredAt: time.Now(), Data: data}
}

// Publisher delivers events. Publishing is best effort; callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the standard logger
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	log.Printf("Event: %s user=%s session=%s data=%s", event.Topic, event.UserID, event.SessionID, data)
	return nil
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topics returns the topic of every recorded event in order
func (r *Recorder) Topics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Topic, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

// Fanout publishes to every publisher and returns the first error
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishLogged publishes and logs a failure instead of returning it
func PublishLogged(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Printf("Warning: failed to publish %s event: %v", event.Topic, err)
	}
}
