package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 CACHING_PROXY_LOGLEVEL。
const EnvPrefix = "CACHING_PROXY"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Port", 0)
	v.SetDefault("Origin", "")
	v.SetDefault("CacheFile", "")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "100s")
	v.SetDefault("FollowRedirects", true)
	v.SetDefault("CoalesceMisses", false)
	v.SetDefault("BodyLimit", 4*1024*1024)
	v.SetDefault("MetricsPort", 0)
	v.SetDefault("ShutdownTimeout", "10s")
}

func applyDefaults(c *Config) error {
	c.Origin = strings.TrimSpace(c.Origin)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UpstreamTimeout.DurationValue() == 0 {
		c.UpstreamTimeout = Duration(100 * time.Second)
	}
	if c.ShutdownTimeout.DurationValue() == 0 {
		c.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.BodyLimit == 0 {
		c.BodyLimit = 4 * 1024 * 1024
	}

	cacheFile, err := resolveCacheFile(c.CacheFile)
	if err != nil {
		return err
	}
	c.CacheFile = cacheFile
	return nil
}

// DefaultCacheFile 返回 ~/.caching-proxy-cache.json 的绝对路径。
func DefaultCacheFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("无法定位用户主目录: %w", err)
	}
	return filepath.Join(home, DefaultCacheFileName), nil
}

// resolveCacheFile 展开 "~/" 前缀并转换为绝对路径，未配置时回退到主目录默认值。
func resolveCacheFile(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCacheFile()
	}
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("无法定位用户主目录: %w", err)
		}
		raw = filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("无法解析缓存文件路径: %w", err)
	}
	return abs, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
