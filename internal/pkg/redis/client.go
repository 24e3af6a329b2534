// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"time"

	"tableside/internal/pkg/logger"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient 根据逗号分隔的地址创建客户端。
// 一个地址时是单机客户端，多个地址时是集群客户端。
func NewClient(addrs string) (goredis.UniversalClient, error) {
	var list []string
	for _, a := range strings.Split(addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			list = append(list, a)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("redis: no address configured")
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        list,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addrs)
	}

	logger.L().Info().Strs("addrs", list).Msg("✅ Connected to Redis")
	return client, nil
}
