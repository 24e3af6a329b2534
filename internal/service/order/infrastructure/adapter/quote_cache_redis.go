package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"tableside/internal/service/order/domain"
)

const quoteKeyPrefix = "delivery_quote:"

// QuoteCacheRedis 实现了 port.QuoteCache，按下单会话缓存运费报价。
type QuoteCacheRedis struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewQuoteCacheRedis(rdb goredis.UniversalClient, ttl time.Duration) *QuoteCacheRedis {
	return &QuoteCacheRedis{rdb: rdb, ttl: ttl}
}

// Get 返回缓存的报价，没有时返回 nil
func (c *QuoteCacheRedis) Get(ctx context.Context, sessionID string) (*domain.DeliveryQuote, error) {
	raw, err := c.rdb.Get(ctx, quoteKeyPrefix+sessionID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read cached quote")
	}
	var q domain.DeliveryQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		// 坏数据当作未命中
		return nil, nil
	}
	return &q, nil
}

func (c *QuoteCacheRedis) Put(ctx context.Context, sessionID string, quote domain.DeliveryQuote) error {
	raw, err := json.Marshal(quote)
	if err != nil {
		return errors.Wrap(err, "marshal quote")
	}
	return c.rdb.Set(ctx, quoteKeyPrefix+sessionID, raw, c.ttl).Err()
}

func (c *QuoteCacheRedis) Invalidate(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, quoteKeyPrefix+sessionID).Err()
}
