package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"simjobs/internal/apperrors"
	"simjobs/pkg/backoff"
	"simjobs/pkg/circuitbreaker"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errNacked = errors.New("broker did not confirm publish")

// AMQP is a Queue on a RabbitMQ durable queue. It owns its connection and
// reconnects behind Publish and Consume; callers never see a stale channel.
type AMQP struct {
	cfg     AMQPConfig
	log     *slog.Logger
	breaker *circuitbreaker.Breaker

	mu     sync.Mutex // guards conn and pubCh
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	pubMu  sync.Mutex // one confirmed publish at a time
	closed bool
	done   chan struct{}
}

// DialAMQP connects to the broker and declares the queue. The initial connection
// is retried with backoff until ctx is done.
func DialAMQP(ctx context.Context, cfg AMQPConfig) (*AMQP, error) {
	cfg = cfg.withDefaults()
	q := &AMQP{
		cfg:  cfg,
		log:  slog.With("component", "amqp", "queue", cfg.QueueName),
		done: make(chan struct{}),
	}
	q.breaker = circuitbreaker.New(circuitbreaker.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		OnStateChange: func(from, to circuitbreaker.State) {
			q.log.Warn("Publish breaker changed state", "from", from.String(), "to", to.String())
		},
	})

	err := backoff.Retry(ctx, backoff.Policy{
		Config:      backoff.Config{Initial: cfg.ReconnectInitial, Max: cfg.ReconnectMax, Jitter: 0.2},
		MaxAttempts: 5,
	}, func(context.Context) error {
		_, err := q.publishChannel()
		if err != nil {
			q.log.Warn("Broker not reachable yet", "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	q.log.Info("Connected to broker")
	return q, nil
}

// connection returns a live connection, dialing if needed. Callers hold q.mu.
func (q *AMQP) connection() (*amqp.Connection, error) {
	if q.closed {
		return nil, ErrClosed
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn, nil
	}
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("simjobs")
	conn, err := amqp.DialConfig(q.cfg.URL, amqp.Config{
		Heartbeat:  q.cfg.Heartbeat,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(q.cfg.DialTimeout),
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	q.conn = conn
	q.pubCh = nil
	return conn, nil
}

func (q *AMQP) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(q.cfg.QueueName, true, false, false, false, nil)
	return err
}

// publishChannel returns the shared confirm-mode channel used for publishing.
func (q *AMQP) publishChannel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	conn, err := q.connection()
	if err != nil {
		return nil, err
	}
	if q.pubCh != nil && !q.pubCh.IsClosed() {
		return q.pubCh, nil
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := q.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	q.pubCh = ch
	return ch, nil
}

func (q *AMQP) resetPublishChannel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pubCh != nil {
		_ = q.pubCh.Close()
		q.pubCh = nil
	}
}

// Publish sends m as a persistent message and waits for the broker's confirm.
// Transient failures are retried; repeated failures trip a breaker so callers
// fail fast while the broker is down.
func (q *AMQP) Publish(ctx context.Context, m Message) error {
	body, err := m.Encode()
	if err != nil {
		return apperrors.Internal("queue.publish", err)
	}

	err = q.breaker.Do(func() error {
		return backoff.Retry(ctx, backoff.Policy{
			Config:      backoff.Config{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
			MaxAttempts: q.cfg.PublishAttempts,
			Retryable:   func(err error) bool { return !errors.Is(err, ErrClosed) },
		}, func(ctx context.Context) error {
			return q.publishOnce(ctx, m.JobID, body)
		})
	}, func(error) bool {
		// The caller gave up; that says nothing about the broker.
		return ctx.Err() != nil
	})
	if err != nil {
		q.log.Warn("Publish failed", "jobId", m.JobID, "breaker", q.breaker.State().String(), "error", err)
		return apperrors.Unavailable("queue.publish", err)
	}
	return nil
}

func (q *AMQP) publishOnce(ctx context.Context, jobID string, body []byte) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	ch, err := q.publishChannel()
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, q.cfg.PublishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(pubCtx, "", q.cfg.QueueName, false, false, amqp.Publishing{
		ContentType:  ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		q.resetPublishChannel()
		return err
	}
	acked, err := confirm.WaitContext(pubCtx)
	if err != nil {
		// The confirm may still arrive on this channel; start fresh so it cannot be misattributed.
		q.resetPublishChannel()
		return err
	}
	if !acked {
		return errNacked
	}
	return nil
}

// Consume runs h over deliveries until ctx is cancelled or the queue is closed.
// Lost connections are re-established with backoff; unacked deliveries from a
// lost channel are redelivered by the broker.
func (q *AMQP) Consume(ctx context.Context, h Handler) error {
	attempt := 0
	for {
		delivered, err := q.consumeSession(ctx, h)
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return nil
		}
		if delivered > 0 {
			attempt = 0
		}
		attempt++
		wait := backoff.Exponential(attempt, &backoff.Config{Initial: q.cfg.ReconnectInitial, Max: q.cfg.ReconnectMax, Jitter: 0.2})
		q.log.Warn("Consumer session ended, reconnecting", "error", err, "retryIn", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case <-time.After(wait):
		}
	}
}

// consumeSession consumes on a fresh channel until it breaks. It returns the
// number of deliveries handled.
func (q *AMQP) consumeSession(ctx context.Context, h Handler) (int, error) {
	q.mu.Lock()
	conn, err := q.connection()
	q.mu.Unlock()
	if err != nil {
		return 0, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	if err := q.declare(ch); err != nil {
		return 0, err
	}
	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return 0, err
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	q.log.Info("Consuming", "prefetch", q.cfg.Prefetch)

	handled := 0
	for {
		select {
		case <-ctx.Done():
			return handled, nil
		case <-q.done:
			return handled, ErrClosed
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return handled, errors.New("channel closed")
			}
			return handled, amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return handled, errors.New("delivery stream closed")
			}
			handled++
			if err := q.handle(ctx, d, h); err != nil {
				return handled, err
			}
		}
	}
}

func (q *AMQP) handle(ctx context.Context, d amqp.Delivery, h Handler) error {
	m, err := Decode(d.Body)
	if err != nil {
		q.log.Warn("Dropping undecodable message", "deliveryTag", d.DeliveryTag, "error", err)
		return d.Nack(false, false)
	}

	decision := h(ctx, Delivery{Message: m, Redelivered: d.Redelivered})
	if decision.Ack {
		return d.Ack(false)
	}
	return d.Nack(false, decision.Requeue)
}

// Ready reports whether a publish channel can be obtained.
func (q *AMQP) Ready(ctx context.Context) error {
	if _, err := q.publishChannel(); err != nil {
		return apperrors.Unavailable("queue.ready", err)
	}
	return nil
}

// Close shuts the connection down and stops consumers.
func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	if q.pubCh != nil {
		_ = q.pubCh.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
