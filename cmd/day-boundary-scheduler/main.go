// cmd/day-boundary-scheduler/main.go
package main

import (
	"context"
	"time"

	"tableside/internal/pkg/bootstrap"
	"tableside/internal/pkg/database"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/redis"
	"tableside/internal/pkg/zookeeper"
	"tableside/internal/service/dayboundary"
	orderinfra "tableside/internal/service/order/infrastructure"
	realtimeinfra "tableside/internal/service/realtime/infrastructure"
)

const (
	serviceName   = "day-boundary-scheduler"
	checkInterval = time.Minute
	lockResource  = "day-boundary"
)

// 多个实例同时运行时，只有拿到 ZooKeeper 锁的一个在发事件
func main() {
	var (
		scheduler *dayboundary.Scheduler
		zkConn    *zookeeper.Conn
		cleanups  []func()
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8089,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) error {
			cfg := appCtx.Config
			db, err := database.OpenMySQL(database.MySQLOptions{
				Host:     cfg.Infra.MySQL.Host,
				Port:     cfg.Infra.MySQL.Port,
				User:     cfg.Infra.MySQL.User,
				Password: cfg.Infra.MySQL.Password,
				Database: cfg.Infra.MySQL.Database,
			})
			if err != nil {
				return err
			}
			rdb, err := redis.NewClient(cfg.Infra.Redis.Addrs)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, func() { _ = rdb.Close() })

			publisher, err := realtimeinfra.NewPublisher(cfg)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, func() { _ = publisher.Close() })

			zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.Timeout)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, zkConn.Close)

			scheduler = dayboundary.NewScheduler(
				orderinfra.NewGormRestaurantRepository(db),
				dayboundary.NewRedisMarker(rdb),
				publisher,
				appCtx.Tracer,
			)
			return nil
		},
		Background: []func(ctx context.Context, appCtx bootstrap.AppCtx){
			func(ctx context.Context, _ bootstrap.AppCtx) {
				lock, err := zookeeper.NewDistributedLock(zkConn, lockResource)
				if err != nil {
					logger.L().Error().Err(err).Msg("failed to create leader lock")
					return
				}
				logger.L().Info().Msg("ℹ️ waiting for day boundary leadership")
				if err := lock.Lock(ctx); err != nil {
					logger.L().Info().Err(err).Msg("🛑 gave up waiting for leadership")
					return
				}
				defer func() {
					if err := lock.Unlock(); err != nil {
						logger.L().Warn().Err(err).Msg("⚠️ failed to release leader lock")
					}
				}()
				scheduler.Run(ctx, checkInterval)
			},
		},
		Cleanup: []func(){
			func() {
				for i := len(cleanups) - 1; i >= 0; i-- {
					cleanups[i]()
				}
			},
		},
	})
}
