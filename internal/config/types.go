package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// DefaultCacheFileName 是快照文件在用户主目录下的固定文件名。
const DefaultCacheFileName = ".caching-proxy-cache.json"

// Config 是 TOML 文件映射的整体结构；CLI 的 --port/--origin 会覆盖同名字段。
type Config struct {
	Port            int      `mapstructure:"Port"`
	Origin          string   `mapstructure:"Origin"`
	CacheFile       string   `mapstructure:"CacheFile"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	FollowRedirects bool     `mapstructure:"FollowRedirects"`
	CoalesceMisses  bool     `mapstructure:"CoalesceMisses"`
	BodyLimit       int      `mapstructure:"BodyLimit"`
	MetricsPort     int      `mapstructure:"MetricsPort"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// ServerReady 表示端口与源站均已提供，可以启动代理服务。
func (c *Config) ServerReady() bool {
	return c != nil && c.Port != 0 && strings.TrimSpace(c.Origin) != ""
}
