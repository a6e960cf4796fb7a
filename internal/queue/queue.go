// Package queue carries dispatch messages from the dispatcher to workers with
// at-least-once delivery. A message may be delivered more than once; handlers
// rely on the job store's conditional transitions for idempotency.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"simjobs/internal/job"
)

// ContentType of every message body.
const ContentType = "application/json"

// Message is the wire form of one dispatched job.
type Message struct {
	JobID      string         `json:"jobId"`
	Parameters job.Parameters `json:"parameters"`
}

// Encode returns the JSON body of m.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a message body. Bodies without a job id are rejected.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.JobID == "" {
		return Message{}, fmt.Errorf("decode message: missing jobId")
	}
	return m, nil
}

// Delivery is a message handed to a consumer.
type Delivery struct {
	Message     Message
	Redelivered bool // broker has delivered this message before
}

// Decision tells the queue what to do with a delivery once the handler returns.
type Decision struct {
	Ack     bool // remove the message
	Requeue bool // when not acked, put it back for another delivery
}

// Ack removes the message from the queue.
func Ack() Decision { return Decision{Ack: true} }

// Requeue returns the message to the queue for redelivery.
func Requeue() Decision { return Decision{Requeue: true} }

// Drop rejects the message without redelivery.
func Drop() Decision { return Decision{} }

func (d Decision) String() string {
	switch {
	case d.Ack:
		return "ack"
	case d.Requeue:
		return "requeue"
	default:
		return "drop"
	}
}

// Handler processes one delivery. It is called sequentially per consumer.
type Handler func(ctx context.Context, d Delivery) Decision

// Publisher enqueues messages.
type Publisher interface {
	// Publish durably enqueues m. Failures are reported as apperrors.ErrUnavailable.
	Publish(ctx context.Context, m Message) error
}

// Queue is a publisher that can also be consumed from.
type Queue interface {
	Publisher

	// Consume feeds deliveries to h until ctx is cancelled or the queue is closed.
	Consume(ctx context.Context, h Handler) error

	// Ready reports whether the queue can currently accept messages.
	Ready(ctx context.Context) error

	Close() error
}
