package infrastructure

import (
	"context"

	"github.com/pkg/errors"

	"tableside/internal/pkg/bootstrap"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/mq"
	"tableside/internal/service/realtime"
)

// KafkaSource 从 changes topic 读取原始事件。
// 每个推送网关节点使用独立的 group id，这样每个节点都能拿到完整的事件流。
type KafkaSource struct {
	brokers []string
	topic   string
	groupID string
}

func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{brokers: brokers, topic: topic, groupID: groupID}
}

func (s *KafkaSource) Subscribe(ctx context.Context, _ realtime.Filter, deliver func(raw []byte)) error {
	reader := mq.NewKafkaReader(s.brokers, s.topic, s.groupID)
	defer reader.Close()
	logger.Ctx(ctx).Info().Str("topic", s.topic).Str("group", s.groupID).Msg("✅ Kafka change source attached")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch change event")
		}
		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		logger.Ctx(msgCtx).Debug().Str("key", string(msg.Key)).Int64("offset", msg.Offset).Msg("change event received")
		deliver(msg.Value)
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(msgCtx).Warn().Err(err).Msg("⚠️ failed to commit change event offset")
		}
	}
}

// RabbitSource 从 fanout exchange 的临时队列读取原始事件
type RabbitSource struct {
	broker *mq.FanoutBroker
}

func NewRabbitSource(broker *mq.FanoutBroker) *RabbitSource {
	return &RabbitSource{broker: broker}
}

func (s *RabbitSource) Subscribe(ctx context.Context, _ realtime.Filter, deliver func(raw []byte)) error {
	return s.broker.Consume(ctx, func(_ context.Context, body []byte) {
		deliver(body)
	})
}

// NewSource 按配置选择事件来源，返回的 cleanup 释放连接
func NewSource(cfg *bootstrap.Config, groupID string) (realtime.Transport, func(), error) {
	switch cfg.Realtime.Broker {
	case "rabbitmq":
		broker, err := mq.DialFanout(cfg.Infra.RabbitMQ.URL, cfg.Infra.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, err
		}
		return NewRabbitSource(broker), func() { _ = broker.Close() }, nil
	case "kafka", "":
		return NewKafkaSource(splitList(cfg.Infra.Kafka.Brokers), cfg.Infra.Kafka.ChangesTopic, groupID), func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown realtime broker %q", cfg.Realtime.Broker)
	}
}
