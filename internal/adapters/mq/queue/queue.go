// Package queue carries ingestion events between in-process components.
//
// Events flow over a watermill gochannel pub/sub. Delivery is best effort:
// events published while nobody is subscribed are dropped, and consumers
// treat every event as a hint rather than as a unit of work.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// TopicIngested carries model.IngestedEvent payloads.
const TopicIngested = "snapshots.ingested"

// Default bus configuration constants.
const (
	defaultBufferSize = 256
)

// Event is the payload type flowing through the bus.
type Event = model.IngestedEvent

// Publisher announces committed batches.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Queue provides publish and channel-based consume semantics.
type Queue interface {
	Publisher

	// Dequeue subscribes and returns a channel of decoded events. The
	// channel is closed when ctx ends or the bus is closed.
	Dequeue(ctx context.Context) <-chan Event

	// Close shuts down the bus and closes every Dequeue channel.
	Close() error

	// IsClosed returns true if the bus has been closed.
	IsClosed() bool
}

// Bus implements Queue on a watermill gochannel.
type Bus struct {
	pubsub     *gochannel.GoChannel
	topic      string
	bufferSize int
	logger     logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus with configuration options.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		topic:      TopicIngested,
		bufferSize: defaultBufferSize,
		logger:     logger.Get().Named("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pubsub = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(b.bufferSize)},
		NewLoggerAdapter(b.logger),
	)
	return b
}

// Publish encodes e and publishes it on the bus topic.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("project", e.Project)
	msg.Metadata.Set("timeframe", e.Timeframe)
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(b.topic, msg); err != nil {
		metrics.RecordErrorByComponent("queue", "publish")
		return fmt.Errorf("publish %s: %w", b.topic, err)
	}
	return nil
}

// Dequeue returns a channel of events published after the call.
func (b *Bus) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		close(out)
		return out
	}

	msgs, err := b.pubsub.Subscribe(ctx, b.topic)
	if err != nil {
		b.logger.Error(ctx, "subscribe failed", logger.String("topic", b.topic), logger.Error(err))
		close(out)
		return out
	}

	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn(ctx, "dropping undecodable event",
					logger.String("message_id", msg.UUID),
					logger.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- e:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out
}

// Close shuts down the bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// IsClosed returns true if the bus has been closed.
func (b *Bus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// NewEvent stamps a batch summary as an event.
func NewEvent(batchID, project string, p model.Provider, timeframe, watermark string, files, rows int) Event {
	return Event{
		BatchID:   batchID,
		Project:   project,
		Provider:  p,
		Timeframe: timeframe,
		Watermark: watermark,
		Files:     files,
		Rows:      rows,
		At:        time.Now().UTC(),
	}
}
