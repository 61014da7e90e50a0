package mq

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JellyTony/poolboard/events"
	"github.com/JellyTony/poolboard/logger"
	"github.com/JellyTony/poolboard/protocol"
)

// RabbitMQ fans updates out through a fanout exchange so every dashboard
// node sees every update. Each node consumes from its own exclusive queue.
type RabbitMQ struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	q        amqp.Queue
	out      chan events.Update
	done     chan struct{}
	once     sync.Once
}

func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "bind queue")
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "consume")
	}
	r := &RabbitMQ{conn: conn, ch: ch, exchange: exchange, q: q, out: make(chan events.Update, 1024), done: make(chan struct{})}
	go r.consume(msgs)
	return r, nil
}

func (r *RabbitMQ) Publish(evt events.Update) error {
	b, err := protocol.Encode(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.ch.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		Timestamp:   time.Now(),
		ContentType: "application/json",
		Body:        b,
	})
}

func (r *RabbitMQ) consume(msgs <-chan amqp.Delivery) {
	defer close(r.out)
	for {
		select {
		case <-r.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var evt events.Update
			if err := protocol.Decode(m.Body, &evt); err != nil {
				logger.WithFields(logger.Fields{"module": "mq.rabbitmq", "error": err}).Warn("drop malformed update")
				_ = m.Nack(false, false)
				continue
			}
			select {
			case r.out <- evt:
				_ = m.Ack(false)
			case <-r.done:
				_ = m.Nack(false, true)
				return
			}
		}
	}
}

func (r *RabbitMQ) Subscribe() <-chan events.Update { return r.out }

func (r *RabbitMQ) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		if r.ch != nil {
			_ = r.ch.Close()
		}
		if r.conn != nil {
			err = r.conn.Close()
		}
	})
	return err
}
