// README: Notification dispatcher; non-blocking Publish into a bounded queue fanned out to sinks.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"dropoff/internal/observability"
)

const (
	DefaultQueueSize   = 1024
	DefaultSendTimeout = 5 * time.Second
)

// Message is a published payload, encoded once and shared by every sink.
type Message struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Published time.Time       `json:"publishedAt"`
}

// Sink delivers messages to one transport. Send is called from the
// dispatcher goroutine only.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type Dispatcher struct {
	queue       chan Message
	sinks       []Sink
	sendTimeout time.Duration
	log         *zap.Logger
	closeOnce   sync.Once
	done        chan struct{}
}

func NewDispatcher(queueSize int, log *zap.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		queue:       make(chan Message, queueSize),
		sinks:       sinks,
		sendTimeout: DefaultSendTimeout,
		log:         log,
		done:        make(chan struct{}),
	}
}

// Publish never blocks. A full queue drops the message.
func (d *Dispatcher) Publish(topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Warn("notification payload not encodable", zap.String("topic", topic), zap.Error(err))
		return
	}
	m := Message{Topic: topic, Payload: body, Published: time.Now().UTC()}
	select {
	case <-d.done:
		observability.NotificationsDroppedTotal.Inc()
		return
	default:
	}
	select {
	case d.queue <- m:
	default:
		observability.NotificationsDroppedTotal.Inc()
		d.log.Warn("notification queue full, dropping", zap.String("topic", topic))
	}
}

// Pending reports how many messages wait in the queue.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run delivers queued messages until ctx is cancelled, then drains what
// is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.closeOnce.Do(func() { close(d.done) })
			d.drain()
			return
		case m := <-d.queue:
			d.deliver(context.Background(), m)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case m := <-d.queue:
			d.deliver(context.Background(), m)
		default:
			return
		}
	}
}

// deliver sends to every sink; one failing sink does not stop the others.
func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	for _, s := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := s.Send(sendCtx, m)
		cancel()
		if err != nil {
			observability.NotificationErrorsTotal.WithLabelValues(s.Name()).Inc()
			d.log.Warn("notification delivery failed",
				zap.String("sink", s.Name()),
				zap.String("topic", m.Topic),
				zap.Error(err),
			)
		}
	}
}
