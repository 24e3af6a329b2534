// cmd/order-service/main.go
package main

import (
	"time"

	"github.com/pkg/errors"

	"tableside/internal/pkg/bootstrap"
	"tableside/internal/pkg/database"
	"tableside/internal/pkg/httpclient"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/redis"
	"tableside/internal/pkg/session"
	"tableside/internal/service/order/application"
	orderinfra "tableside/internal/service/order/infrastructure"
	"tableside/internal/service/order/infrastructure/adapter"
	"tableside/internal/service/order/infrastructure/rule"
	orderhttp "tableside/internal/service/order/interfaces"
	realtimeinfra "tableside/internal/service/realtime/infrastructure"
	requestapp "tableside/internal/service/request/application"
	requestinfra "tableside/internal/service/request/infrastructure"
	requesthttp "tableside/internal/service/request/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)，
// 它只负责创建并组装依赖，业务都在 application 层。
func main() {
	var cleanups []func()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8081,
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
			if err := orderinfra.AutoMigrate(db); err != nil {
				return errors.Wrap(err, "migrate orders")
			}
			if err := requestinfra.AutoMigrate(db); err != nil {
				return errors.Wrap(err, "migrate service requests")
			}

			rdb, err := redis.NewClient(cfg.Infra.Redis.Addrs)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, func() { _ = rdb.Close() })

			policy, err := rule.NewCELPolicy(cfg.Policy.Forward, cfg.Policy.Cancel)
			if err != nil {
				return errors.Wrap(err, "compile transition policy")
			}

			publisher, err := realtimeinfra.NewPublisher(cfg)
			if err != nil {
				return err
			}
			cleanups = append(cleanups, func() { _ = publisher.Close() })

			loc, err := time.LoadLocation(cfg.App.TimeZone)
			if err != nil {
				logger.L().Warn().Err(err).Str("time_zone", cfg.App.TimeZone).Msg("⚠️ unknown time zone, reports use UTC")
				loc = time.UTC
			}

			client := httpclient.NewClient(appCtx.Tracer)
			if appCtx.Nacos != nil {
				client = client.WithResolver(appCtx.Nacos)
			}
			geocoder := adapter.NewGeocoderHTTPAdapter(client, cfg.Delivery.GeocoderService, cfg.Delivery.GeocoderURL)
			fees := application.NewDeliveryFeeCalculator(geocoder, adapter.NewQuoteCacheRedis(rdb, cfg.Delivery.QuoteTTL))

			orders := application.NewOrderApplicationService(
				orderinfra.NewGormOrderRepository(db),
				orderinfra.NewGormRestaurantRepository(db),
				policy, fees, publisher, appCtx.Tracer, loc,
			)
			requests := requestapp.NewRequestApplicationService(requestinfra.NewGormRequestRepository(db), publisher, appCtx.Tracer)

			sessions := session.NewManager(rdb, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
			staff := make([]session.StaffCredential, 0, len(cfg.Auth.Staff))
			for _, s := range cfg.Auth.Staff {
				staff = append(staff, session.StaffCredential{
					ID: s.ID, Name: s.Name, Role: s.Role, RestaurantID: s.RestaurantID, PinHash: s.PinHash,
				})
			}

			orderhttp.NewOrderHandler(orders, sessions).RegisterRoutes(appCtx.Mux)
			orderhttp.NewSessionHandler(session.NewPinDirectory(staff), sessions).RegisterRoutes(appCtx.Mux)
			requesthttp.NewRequestHandler(requests, sessions).RegisterRoutes(appCtx.Mux)
			return nil
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
