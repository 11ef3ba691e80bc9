package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Port:            8080,
		Origin:          "http://origin.local",
		CacheFile:       "/tmp/cache.json",
		LogLevel:        "info",
		UpstreamTimeout: Duration(30e9),
		ShutdownTimeout: Duration(10e9),
		BodyLimit:       1024,
	}
}
