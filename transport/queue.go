package transport

import (
	"context"
	"fmt"

	"github.com/sthembisoo/airbrake-notifier/queue"
)

// QueueTransport hands notices to a delivery worker through a queue channel.
type QueueTransport struct {
	enqueuer queue.Enqueuer
	channel  string
}

func NewQueueTransport(enqueuer queue.Enqueuer, channel string) *QueueTransport {
	if channel == "" {
		channel = queue.DefaultChannel
	}
	return &QueueTransport{enqueuer: enqueuer, channel: channel}
}

func (t *QueueTransport) Kind() Kind {
	return KindQueue
}

func (t *QueueTransport) Deliver(ctx context.Context, req Request) (Outcome, error) {
	payload, err := queue.Payload{
		URL:     req.URL,
		Headers: req.Headers,
		Body:    req.Body,
	}.Encode()
	if err != nil {
		return Outcome{}, err
	}

	if err := t.enqueuer.Put(ctx, t.channel, payload); err != nil {
		return Outcome{}, fmt.Errorf("failed to enqueue notice on %s: %w", t.channel, err)
	}
	return Enqueued(), nil
}
