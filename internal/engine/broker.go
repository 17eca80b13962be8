package engine

import (
	"sync"
	"time"

	"github.com/roomdoor/fan-out-call/internal/model"
)

// subscriberBufferSize is the channel buffer for each run subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 128

// DefaultClosedTopicRetention is how long a finished run's topic is kept.
const DefaultClosedTopicRetention = time.Minute

// Run event types.
const (
	EventResult    = "result"
	EventFinalized = "finalized"
)

// RunEvent is one progress update of a run. Result is set for EventResult,
// Snapshot for EventFinalized.
type RunEvent struct {
	Type     string             `json:"type"`
	Result   *model.ResultView  `json:"result,omitempty"`
	Snapshot *model.RunSnapshot `json:"snapshot,omitempty"`
}

// RunEventBroker fans run progress out to subscribers. It is safe for
// concurrent use.
//
// Closed topics are retained as markers for a grace period so that a
// subscriber racing the end of a run receives a closed channel. After the
// marker is evicted a late subscriber gets an open channel that never fires,
// so callers check the stored run status before waiting on it.
type RunEventBroker struct {
	mu     sync.Mutex
	topics map[int64]*runTopic
	retain time.Duration
}

// BrokerOption configures a RunEventBroker.
type BrokerOption func(*RunEventBroker)

// WithClosedTopicRetention sets how long closed topics are kept.
func WithClosedTopicRetention(d time.Duration) BrokerOption {
	return func(b *RunEventBroker) {
		b.retain = d
	}
}

type runTopic struct {
	subs   map[int]chan RunEvent
	nextID int
	closed bool
}

// NewRunEventBroker creates an empty broker.
func NewRunEventBroker(opts ...BrokerOption) *RunEventBroker {
	b := &RunEventBroker{
		topics: make(map[int64]*runTopic),
		retain: DefaultClosedTopicRetention,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel of events for runID and an unsubscribe
// function. If the run already finished, the channel is closed.
func (b *RunEventBroker) Subscribe(runID int64) (<-chan RunEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &runTopic{subs: make(map[int]chan RunEvent)}
		b.topics[runID] = t
	}

	ch := make(chan RunEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		// An open topic with no subscribers carries no state.
		if len(t.subs) == 0 && !t.closed && b.topics[runID] == t {
			delete(b.topics, runID)
		}
	}
}

// Publish sends ev to all subscribers of runID, dropping it for subscribers
// whose buffers are full.
func (b *RunEventBroker) Publish(runID int64, ev RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close marks the run finished and closes every subscriber channel.
func (b *RunEventBroker) Close(runID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &runTopic{subs: make(map[int]chan RunEvent)}
		b.topics[runID] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	time.AfterFunc(b.retain, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.topics[runID] == t {
			delete(b.topics, runID)
		}
	})
}

func (b *RunEventBroker) topicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
