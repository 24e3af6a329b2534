package utils

import (
	"net"
	"os"
)

// GetOutboundIP 获取本机对外通信使用的 IP，用于服务注册。
// UDP Dial 不会真正发送数据。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// GetEnv 从环境变量中读取配置，不存在时返回默认值。
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
