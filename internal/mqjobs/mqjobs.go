// Package mqjobs publishes and consumes memory-indexing jobs over
// RabbitMQ, mirroring the teacher's internal/store/rabbitmq.Publisher
// queue topology (main queue dead-lettering into a DLQ).
package mqjobs

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type MemoryIndexJob struct {
	SessionID string `json:"session_id"`
	BranchID  string `json:"branch_id"`
	MessageID string `json:"message_id"`
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishMemoryIndexJob(ctx context.Context, job MemoryIndexJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.ch.PublishWithContext(cctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Consumer wraps the channel and deliveries needed to drain the memory
// indexing queue from cmd/memoryworker.
type Consumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	msgs    <-chan amqp.Delivery
}

func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, msgs: msgs}, nil
}

func (c *Consumer) Deliveries() <-chan amqp.Delivery { return c.msgs }

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func declareTopology(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, args)
	return err
}

// DecodeJob unmarshals a delivery body into a MemoryIndexJob.
func DecodeJob(body []byte) (MemoryIndexJob, error) {
	var job MemoryIndexJob
	err := json.Unmarshal(body, &job)
	return job, err
}
