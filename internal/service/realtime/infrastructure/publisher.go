// internal/service/realtime/infrastructure/publisher.go
package infrastructure

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"tableside/internal/pkg/bootstrap"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	"tableside/internal/pkg/mq"
	"tableside/internal/service/realtime"
)

// KafkaPublisher 把变更事件写入 changes topic，key 为实体 id，
// 同一实体的事件落在同一分区。
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	raw, err := realtime.Encode(ev)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.EntityType), "invalid").Inc()
		return err
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(ev.EntityID), raw); err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.EntityType), "error").Inc()
		return errors.Wrapf(err, "produce %s event for %s", ev.EntityType, ev.EntityID)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.EntityType), "ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// RabbitPublisher 把变更事件发到 fanout exchange
type RabbitPublisher struct {
	broker *mq.FanoutBroker
}

func NewRabbitPublisher(broker *mq.FanoutBroker) *RabbitPublisher {
	return &RabbitPublisher{broker: broker}
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	raw, err := realtime.Encode(ev)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.EntityType), "invalid").Inc()
		return err
	}
	if err := p.broker.Publish(ctx, []byte(ev.EntityID), raw); err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.EntityType), "error").Inc()
		return errors.Wrapf(err, "publish %s event for %s", ev.EntityType, ev.EntityID)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.EntityType), "ok").Inc()
	return nil
}

func (p *RabbitPublisher) Close() error { return p.broker.Close() }

// ClosablePublisher 是带有资源释放的 Publisher
type ClosablePublisher interface {
	realtime.Publisher
	Close() error
}

// NewPublisher 按配置选择消息中间件
func NewPublisher(cfg *bootstrap.Config) (ClosablePublisher, error) {
	switch cfg.Realtime.Broker {
	case "rabbitmq":
		broker, err := mq.DialFanout(cfg.Infra.RabbitMQ.URL, cfg.Infra.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		logger.L().Info().Str("exchange", cfg.Infra.RabbitMQ.Exchange).Msg("✅ change events go to RabbitMQ")
		return NewRabbitPublisher(broker), nil
	case "kafka", "":
		writer := mq.NewKafkaWriter(splitList(cfg.Infra.Kafka.Brokers), cfg.Infra.Kafka.ChangesTopic)
		logger.L().Info().Str("topic", cfg.Infra.Kafka.ChangesTopic).Msg("✅ change events go to Kafka")
		return NewKafkaPublisher(writer), nil
	default:
		return nil, errors.Errorf("unknown realtime broker %q", cfg.Realtime.Broker)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
