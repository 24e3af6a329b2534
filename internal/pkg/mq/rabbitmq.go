// internal/pkg/mq/rabbitmq.go
package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tableside/internal/pkg/logger"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// AMQPHeaderCarrier 让 OTel propagator 可以读写 amqp.Table。
type AMQPHeaderCarrier amqp.Table

var _ propagation.TextMapCarrier = AMQPHeaderCarrier(nil)

func (c AMQPHeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c AMQPHeaderCarrier) Set(key, value string) { c[key] = value }

func (c AMQPHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// FanoutBroker 封装一个 fanout exchange：每个订阅者拿到一份完整的消息流。
type FanoutBroker struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialFanout 连接 RabbitMQ 并声明 exchange
func DialFanout(url, exchange string) (*FanoutBroker, error) {
	b := &FanoutBroker{url: url, exchange: exchange}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FanoutBroker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "open rabbitmq channel")
	}
	if err := ch.ExchangeDeclare(b.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		conn.Close()
		return errors.Wrapf(err, "declare exchange %s", b.exchange)
	}
	b.conn, b.ch = conn, ch
	return nil
}

func (b *FanoutBroker) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() || b.ch == nil || b.ch.IsClosed() {
		if err := b.connect(); err != nil {
			return nil, err
		}
		logger.L().Info().Str("exchange", b.exchange).Msg("✅ RabbitMQ reconnected")
	}
	return b.ch, nil
}

// Publish 发送一条带链路信息的消息，key 写入 message id 便于排查。
func (b *FanoutBroker) Publish(ctx context.Context, key, body []byte) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, AMQPHeaderCarrier(headers))
	return ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    string(key),
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
}

// Consume 声明一个独占的临时队列并绑定到 exchange，阻塞直到 ctx 结束或连接断开。
// handler 在同一个 goroutine 中顺序调用。
func (b *FanoutBroker) Consume(ctx context.Context, handler func(ctx context.Context, body []byte)) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return errors.Wrap(err, "declare consumer queue")
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return errors.Wrapf(err, "bind queue %s", q.Name)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel for %s closed", q.Name)
			}
			msgCtx := otel.GetTextMapPropagator().Extract(ctx, AMQPHeaderCarrier(d.Headers))
			handler(msgCtx, d.Body)
		}
	}
}

func (b *FanoutBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil && !b.ch.IsClosed() {
		_ = b.ch.Close()
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}
