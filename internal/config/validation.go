package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// Port/Origin 允许留空，是否必填由 CLI 根据运行模式决定。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.Port < 0 || c.Port > 65535 {
		return newFieldError("Port", "必须在 1-65535，0 表示未设置")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return newFieldError("MetricsPort", "必须在 0-65535")
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		return newFieldError("MetricsPort", "不能与 Port 相同")
	}
	if strings.TrimSpace(c.CacheFile) == "" {
		return newFieldError("CacheFile", "不能为空")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("ShutdownTimeout", "必须大于 0")
	}
	if c.BodyLimit <= 0 {
		return newFieldError("BodyLimit", "必须大于 0")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", fmt.Sprintf("无法识别: %s", c.LogLevel))
	}
	return nil
}

// ParseOrigin 校验源站地址：必须是带 Host 的 http/https 绝对 URL。
func ParseOrigin(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("源站必须是绝对 URL: %s", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return parsed, nil
}
