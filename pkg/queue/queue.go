// Package queue implements the durable FIFO job queue used to hand documents
// (and crawl requests) between pipeline stages. It is built on NATS
// JetStream pull consumers: one durable consumer per named queue, one
// subject per queue, one stream shared across all of them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
)

const streamName = "JOBS"

// Queue is a durable FIFO job queue. Job payloads are opaque UTF-8 strings
// (a document ID, or for jobs:crawl a crawl-request ID).
type Queue struct {
	js        jetstream.JetStream
	stream    jetstream.Stream
	consumers map[string]jetstream.Consumer
}

// subject maps a queue name ("jobs:crawl") to a JetStream subject
// ("jobs.crawl") — JetStream subjects can't contain ':'.
func subject(queueName string) string {
	return strings.ReplaceAll(queueName, ":", ".")
}

// New connects to NATS at url and ensures the shared stream and one durable
// consumer per queue in queueNames exist.
func New(ctx context.Context, url string, queueNames []string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(time.Second))
	if err != nil {
		return nil, fmt.Errorf("queue: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("queue: jetstream: %w", err)
	}

	subjects := make([]string, len(queueNames))
	for i, q := range queueNames {
		subjects[i] = subject(q)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create stream: %w", err)
	}

	q := &Queue{js: js, stream: stream, consumers: make(map[string]jetstream.Consumer, len(queueNames))}
	for _, name := range queueNames {
		durable := strings.ReplaceAll(name, ":", "-")
		cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       durable,
			FilterSubject: subject(name),
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("queue: create consumer %s: %w", name, err)
		}
		q.consumers[name] = cons
	}
	return q, nil
}

// jobHeaderCarrier adapts nats.Header for the OTel TextMapCarrier interface.
type jobHeaderCarrier nats.Header

func (c jobHeaderCarrier) Get(key string) string   { return nats.Header(c).Get(key) }
func (c jobHeaderCarrier) Set(key, val string)      { nats.Header(c).Set(key, val) }
func (c jobHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Push appends payload to the tail of queueName. Idempotent-at-the-queue-
// level is the caller's responsibility (the pipeline dedups via the
// document's stage column, not via the queue).
func (q *Queue) Push(ctx context.Context, queueName, payload string) error {
	header := make(nats.Header)
	otel.GetTextMapPropagator().Inject(ctx, jobHeaderCarrier(header))
	_, err := q.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject(queueName),
		Data:    []byte(payload),
		Header:  header,
	})
	if err != nil {
		return fmt.Errorf("queue: push %s: %w", queueName, err)
	}
	return nil
}

// ErrEmpty is returned by nothing directly; Pop instead returns ("", nil)
// when no job arrived within timeout, matching the contract "pop(queue,
// timeout) -> payload | nil".
var ErrEmpty = errors.New("queue: no job available")

// Pop blocks up to timeout for a job on queueName. It returns ("", nil) on
// timeout. A successfully popped message is acked immediately — the queue
// guarantees at-least-once delivery only up to that ack; a worker crash
// after Pop returns but before the document's stage transition commits is
// not retried by the queue (see the pipeline runtime's stage-advance
// ordering and the external reaper this implies).
func (q *Queue) Pop(ctx context.Context, queueName string, timeout time.Duration) (string, error) {
	cons, ok := q.consumers[queueName]
	if !ok {
		return "", fmt.Errorf("queue: unknown queue %q", queueName)
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs, err := cons.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return "", fmt.Errorf("queue: fetch %s: %w", queueName, err)
	}
	select {
	case msg, okMsg := <-msgs.Messages():
		if !okMsg || msg == nil {
			return "", nil
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return "", fmt.Errorf("queue: ack %s: %w", queueName, ackErr)
		}
		return string(msg.Data()), nil
	case <-fctx.Done():
		return "", nil
	}
}

// Depth returns the number of undelivered jobs waiting on queueName.
func (q *Queue) Depth(ctx context.Context, queueName string) (int, error) {
	cons, ok := q.consumers[queueName]
	if !ok {
		return 0, fmt.Errorf("queue: unknown queue %q", queueName)
	}
	info, err := cons.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: info %s: %w", queueName, err)
	}
	return int(info.NumPending), nil
}
