// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构，对应 config.yaml。
type Config struct {
	App      AppConfig      `yaml:"app"`
	Infra    InfraConfig    `yaml:"infra"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
	Policy   PolicyConfig   `yaml:"policy"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	TimeZone string `yaml:"time_zone"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Nacos struct {
		Enabled     bool   `yaml:"enabled"`
		ServerAddrs string `yaml:"server_addrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`
	MySQL struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"mysql"`
	Redis struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      string `yaml:"brokers"`
		ChangesTopic string `yaml:"changes_topic"`
	} `yaml:"kafka"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Zookeeper struct {
		Servers string        `yaml:"servers"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"zookeeper"`
}

type RealtimeConfig struct {
	// Broker 取值 kafka 或 rabbitmq
	Broker     string        `yaml:"broker"`
	GatewayURL string        `yaml:"gateway_url"`
	APIBaseURL string        `yaml:"api_base_url"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type StaffMember struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	RestaurantID string `yaml:"restaurant_id"`
	PinHash      string `yaml:"pin_hash"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Staff      []StaffMember `yaml:"staff"`
}

// PolicyConfig 存放订单状态流转的权限表达式（CEL）。
type PolicyConfig struct {
	Forward string `yaml:"forward"`
	Cancel  string `yaml:"cancel"`
}

type DeliveryConfig struct {
	GeocoderService string        `yaml:"geocoder_service"`
	GeocoderURL     string        `yaml:"geocoder_url"`
	QuoteTTL        time.Duration `yaml:"quote_ttl"`
}

type AlertsConfig struct {
	Muted         bool    `yaml:"muted"`
	Volume        float64 `yaml:"volume"`
	Vibrate       bool    `yaml:"vibrate"`
	PlayerCommand string  `yaml:"player_command"`
	SynthOutput   string  `yaml:"synth_output"`
}

const (
	DefaultForwardPolicy = `role in ["kitchen", "staff", "manager", "owner"] || (role == "cashier" && from == "ready" && to == "completed")`
	DefaultCancelPolicy  = `role in ["manager", "owner"] || (role == "staff" && from == "pending")`
	DefaultAlertVolume   = 0.8
)

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置。Init 之前调用会得到默认配置。
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// SetCurrentConfig 替换当前配置（测试和热更新时使用）。
func SetCurrentConfig(cfg *Config) {
	current.Store(cfg)
}

// newConfig 返回预置了默认值的配置。零值本身有意义的字段
// 要在解析 YAML 之前设置，显式写 0 才能生效。
func newConfig() *Config {
	return &Config{Alerts: AlertsConfig{Volume: DefaultAlertVolume}}
}

// LoadConfig 读取 YAML 配置文件并叠加环境变量。
// path 不存在时只使用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	// .env 只在本地开发时存在，缺失不是错误
	_ = godotenv.Load()

	cfg := newConfig()
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"JAEGER_ENDPOINT":    &cfg.Infra.Jaeger.Endpoint,
		"NACOS_SERVER_ADDRS": &cfg.Infra.Nacos.ServerAddrs,
		"NACOS_NAMESPACE":    &cfg.Infra.Nacos.Namespace,
		"NACOS_GROUP":        &cfg.Infra.Nacos.Group,
		"MYSQL_HOST":         &cfg.Infra.MySQL.Host,
		"MYSQL_USER":         &cfg.Infra.MySQL.User,
		"MYSQL_PASSWORD":     &cfg.Infra.MySQL.Password,
		"MYSQL_DATABASE":     &cfg.Infra.MySQL.Database,
		"REDIS_ADDRS":        &cfg.Infra.Redis.Addrs,
		"KAFKA_BROKERS":      &cfg.Infra.Kafka.Brokers,
		"RABBITMQ_URL":       &cfg.Infra.RabbitMQ.URL,
		"ZOOKEEPER_SERVERS":  &cfg.Infra.Zookeeper.Servers,
		"REALTIME_BROKER":    &cfg.Realtime.Broker,
		"JWT_SECRET":         &cfg.Auth.JWTSecret,
		"LOG_LEVEL":          &cfg.App.LogLevel,
	}
	for key, target := range overrides {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			*target = value
		}
	}
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.App.LogLevel, "info")
	setDefault(&cfg.App.TimeZone, "UTC")
	setDefault(&cfg.Infra.Nacos.ServerAddrs, "localhost:8848")
	setDefault(&cfg.Infra.Nacos.Group, "DEFAULT_GROUP")
	setDefault(&cfg.Infra.MySQL.Host, "localhost")
	if cfg.Infra.MySQL.Port == 0 {
		cfg.Infra.MySQL.Port = 3306
	}
	setDefault(&cfg.Infra.MySQL.Database, "tableside")
	setDefault(&cfg.Infra.Redis.Addrs, "localhost:6379")
	setDefault(&cfg.Infra.Kafka.Brokers, "localhost:9092")
	setDefault(&cfg.Infra.Kafka.ChangesTopic, "tableside.changes")
	setDefault(&cfg.Infra.RabbitMQ.Exchange, "tableside.changes")
	setDefault(&cfg.Infra.Zookeeper.Servers, "localhost:2181")
	if cfg.Infra.Zookeeper.Timeout == 0 {
		cfg.Infra.Zookeeper.Timeout = 5 * time.Second
	}
	setDefault(&cfg.Realtime.Broker, "kafka")
	setDefault(&cfg.Realtime.GatewayURL, "ws://localhost:8088/ws")
	setDefault(&cfg.Realtime.APIBaseURL, "http://localhost:8081")
	if cfg.Realtime.MinBackoff == 0 {
		cfg.Realtime.MinBackoff = time.Second
	}
	if cfg.Realtime.MaxBackoff == 0 {
		cfg.Realtime.MaxBackoff = 30 * time.Second
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 12 * time.Hour
	}
	setDefault(&cfg.Policy.Forward, DefaultForwardPolicy)
	setDefault(&cfg.Policy.Cancel, DefaultCancelPolicy)
	setDefault(&cfg.Delivery.GeocoderService, "geocoding-service")
	if cfg.Delivery.QuoteTTL == 0 {
		cfg.Delivery.QuoteTTL = 30 * time.Minute
	}
}

func (c *Config) validate() error {
	var problems []string
	switch c.Realtime.Broker {
	case "kafka", "rabbitmq":
	default:
		problems = append(problems, "realtime.broker must be kafka or rabbitmq")
	}
	if c.Alerts.Volume < 0 || c.Alerts.Volume > 1 {
		problems = append(problems, "alerts.volume must be in 0..1")
	}
	if c.Realtime.MinBackoff > c.Realtime.MaxBackoff {
		problems = append(problems, "realtime.min_backoff must not exceed realtime.max_backoff")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
