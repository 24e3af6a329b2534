// internal/pkg/nacos/client.go
package nacos

import (
	"net"
	"strconv"
	"strings"

	"tableside/internal/pkg/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
)

const defaultGroup = "DEFAULT_GROUP"

// Options 是连接 Nacos 所需的参数
type Options struct {
	ServerAddrs string // "host1:8848,host2:8848"
	Namespace   string
	Group       string
	CacheDir    string
}

// Instance 描述一个注册到 Nacos 的 tableside 进程
type Instance struct {
	Service  string
	IP       string
	Port     int
	Metadata map[string]string // 例如 env、node_id
}

// Client 封装了 Nacos 命名客户端
type Client struct {
	naming naming_client.INamingClient
	group  string
}

// ParseServerAddrs 解析逗号分隔的 host:port 列表
func ParseServerAddrs(addrs string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, rawPort, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid nacos address %q", addr)
		}
		port, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address %q", addr)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	if len(out) == 0 {
		return nil, errors.New("no nacos address configured")
	}
	return out, nil
}

// NewClient 连接 Nacos 并返回命名客户端
func NewClient(opts Options) (*Client, error) {
	servers, err := ParseServerAddrs(opts.ServerAddrs)
	if err != nil {
		return nil, err
	}
	if opts.Group == "" {
		opts.Group = defaultGroup
	}
	if opts.CacheDir == "" {
		opts.CacheDir = "/tmp/tableside/nacos"
	}

	clientConfig := constant.NewClientConfig(
		constant.WithNamespaceId(opts.Namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir(opts.CacheDir+"/log"),
		constant.WithCacheDir(opts.CacheDir+"/cache"),
		constant.WithLogLevel("warn"),
	)
	naming, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  clientConfig,
		ServerConfigs: servers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}

	logger.L().Info().Str("namespace", opts.Namespace).Str("group", opts.Group).Msg("✅ connected to nacos")
	return &Client{naming: naming, group: opts.Group}, nil
}

// Register 以临时实例注册，心跳断开后自动摘除
func (c *Client) Register(in Instance) error {
	ok, err := c.naming.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.Service,
		GroupName:   c.group,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return errors.Wrapf(err, "register %s", in.Service)
	}
	if !ok {
		return errors.Errorf("nacos refused registration of %s", in.Service)
	}
	logger.L().Info().Str("service", in.Service).Str("ip", in.IP).Int("port", in.Port).Msg("✅ registered with nacos")
	return nil
}

// Deregister 注销实例
func (c *Client) Deregister(in Instance) error {
	if _, err := c.naming.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.Service,
		GroupName:   c.group,
		Ephemeral:   true,
	}); err != nil {
		return errors.Wrapf(err, "deregister %s", in.Service)
	}
	logger.L().Info().Str("service", in.Service).Msg("ℹ️ deregistered from nacos")
	return nil
}

// DiscoverServiceInstance 按权重挑一个健康实例，供 httpclient 按服务名调用
func (c *Client) DiscoverServiceInstance(service string) (string, int, error) {
	inst, err := c.naming.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: service,
		GroupName:   c.group,
	})
	if err != nil {
		return "", 0, errors.Wrapf(err, "discover %s", service)
	}
	if inst == nil {
		return "", 0, errors.Errorf("no healthy instance of %s", service)
	}
	return inst.Ip, int(inst.Port), nil
}

func (c *Client) Close() {
	if c.naming != nil {
		c.naming.CloseClient()
	}
}
