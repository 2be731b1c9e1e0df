package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// DefaultQueue is the queue the mail workers consume.
const DefaultQueue = "campaign_sends"

// SendMessage is the body published for each job.
type SendMessage struct {
	JobID      string    `json:"job_id"`
	TargetID   string    `json:"target_id"`
	To         string    `json:"to"`
	From       string    `json:"from"`
	FromName   string    `json:"from_name,omitempty"`
	Template   string    `json:"template"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// publisher is the subset of *amqp.Channel used for sending.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPTransport hands jobs to the mail workers over RabbitMQ and waits for the
// broker to confirm each publish. A confirmed publish counts as sent.
type AMQPTransport struct {
	conn     *amqp.Connection
	ch       publisher
	confirms <-chan amqp.Confirmation
	queue    string
	logger   zerolog.Logger

	// publishes and confirms are correlated by order, so one at a time
	mu sync.Mutex
	// confirms still owed to publishes whose caller gave up waiting
	stale int
}

// DialAMQP connects to the broker, declares the durable queue and enables publisher confirms.
func DialAMQP(url, queue string, logger zerolog.Logger) (*AMQPTransport, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	t := newAMQPTransport(ch, confirms, queue, logger)
	t.conn = conn
	return t, nil
}

func newAMQPTransport(ch publisher, confirms <-chan amqp.Confirmation, queue string, logger zerolog.Logger) *AMQPTransport {
	return &AMQPTransport{
		ch:       ch,
		confirms: confirms,
		queue:    queue,
		logger:   logger.With().Str("component", "amqp-transport").Str("queue", queue).Logger(),
	}
}

// Send publishes the job and blocks until the broker acks it or ctx ends.
func (t *AMQPTransport) Send(ctx context.Context, job model.EmailJob) error {
	if err := ValidateEmail(job.Target.Email); err != nil {
		return appErrors.Permanent(err)
	}

	body, err := json.Marshal(SendMessage{
		JobID:      job.ID,
		TargetID:   job.Target.ID,
		To:         job.Target.Email,
		From:       job.Sender.Address,
		FromName:   job.Sender.Name,
		Template:   job.Template,
		Attempt:    job.Attempts,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return appErrors.Permanent(fmt.Errorf("encode job %s: %w", job.ID, err))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for t.stale > 0 {
		select {
		case _, ok := <-t.confirms:
			if !ok {
				return appErrors.Transient(fmt.Errorf("publish job %s: confirm channel closed", job.ID))
			}
			t.stale--
		case <-ctx.Done():
			return appErrors.Transient(fmt.Errorf("publish job %s: draining confirms: %w", job.ID, ctx.Err()))
		}
	}

	err = t.ch.Publish("", t.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return appErrors.Transient(fmt.Errorf("publish job %s: channel closed: %w", job.ID, err))
		}
		return appErrors.Transient(fmt.Errorf("publish job %s: %w", job.ID, err))
	}

	select {
	case c, ok := <-t.confirms:
		if !ok {
			return appErrors.Transient(fmt.Errorf("publish job %s: confirm channel closed", job.ID))
		}
		if !c.Ack {
			t.logger.Warn().Str("job_id", job.ID).Uint64("delivery_tag", c.DeliveryTag).Msg("broker nacked publish")
			return appErrors.Transient(fmt.Errorf("publish job %s: broker nack", job.ID))
		}
		return nil
	case <-ctx.Done():
		t.stale++
		return appErrors.Transient(fmt.Errorf("publish job %s: waiting for confirm: %w", job.ID, ctx.Err()))
	}
}

// Close shuts the connection down.
func (t *AMQPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
