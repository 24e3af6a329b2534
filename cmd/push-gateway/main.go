// cmd/push-gateway/main.go
package main

import (
	"context"

	"github.com/google/uuid"

	"tableside/internal/pkg/bootstrap"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/redis"
	"tableside/internal/pkg/session"
	"tableside/internal/service/realtime"
	realtimeinfra "tableside/internal/service/realtime/infrastructure"
	"tableside/internal/service/realtime/interfaces"
)

const serviceName = "push-gateway"

// 每个网关节点有自己的消费组，保证每个节点都能收到全部变更事件
var nodeID = "push-gateway-" + uuid.New().String()[:8]

func main() {
	var (
		hub      *interfaces.Hub
		source   realtime.Transport
		cleanups []func()
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) error {
			rdb, err := redis.NewClient(appCtx.Config.Infra.Redis.Addrs)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, func() { _ = rdb.Close() })
			sessions := session.NewManager(rdb, appCtx.Config.Auth.JWTSecret, appCtx.Config.Auth.SessionTTL)

			var closeSource func()
			source, closeSource, err = realtimeinfra.NewSource(appCtx.Config, nodeID)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, closeSource)

			hub = interfaces.NewHub(nodeID, sessions)
			interfaces.NewGateway(hub, sessions).RegisterRoutes(appCtx.Mux)
			logger.L().Info().Str("node_id", nodeID).Str("broker", appCtx.Config.Realtime.Broker).Msg("✅ push gateway ready")
			return nil
		},
		Background: []func(ctx context.Context, appCtx bootstrap.AppCtx){
			func(ctx context.Context, _ bootstrap.AppCtx) { hub.Run(ctx) },
			func(ctx context.Context, appCtx bootstrap.AppCtx) {
				hub.Consume(ctx, source, appCtx.Config.Realtime.MinBackoff, appCtx.Config.Realtime.MaxBackoff)
			},
		},
		Cleanup: []func(){
			func() {
				for _, fn := range cleanups {
					fn()
				}
			},
		},
	})
}
