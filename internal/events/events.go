// Package events publishes analysis job lifecycle events over watermill.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/pbaille/journal/internal/logging"
)

const (
	TopicCompleted = "analysis.completed"
	TopicFailed    = "analysis.failed"
)

// Reasons carried by failed and no-op events
const (
	ReasonTimeout   = "timeout"
	ReasonExhausted = "retries_exhausted"
	ReasonMissing   = "content_missing"
)

// JobEvent is the payload of every lifecycle message
type JobEvent struct {
	JobID     string    `json:"job_id"`
	ContentID string    `json:"content_id"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Source    string    `json:"source,omitempty"`
	At        time.Time `json:"at"`
}

// Topic routes terminal failures to TopicFailed and everything else to TopicCompleted
func (e JobEvent) Topic() string {
	if e.Status == "failed" {
		return TopicFailed
	}
	return TopicCompleted
}

// NewInProcess returns an in-memory pub/sub shared by publisher and subscribers
func NewInProcess() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		logging.NewWatermillAdapter(),
	)
}

// Publisher serializes JobEvents onto a watermill publisher
type Publisher struct {
	pub    message.Publisher
	mu     sync.RWMutex
	closed bool
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Publish sends one event on its topic
func (p *Publisher) Publish(ctx context.Context, event JobEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("content_id", event.ContentID)
	msg.Metadata.Set("status", event.Status)
	msg.SetContext(ctx)

	if err := p.pub.Publish(event.Topic(), msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Topic(), err)
	}
	return nil
}

// Close stops publishing; the underlying pub/sub is owned by the caller
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Decode reads a JobEvent back from a message
func Decode(msg *message.Message) (JobEvent, error) {
	var e JobEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return e, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return e, nil
}
