package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("CACHING_PROXY_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsValues(t *testing.T) {
	t.Setenv("CACHING_PROXY_CONFIG", "")

	opts, err := parseCLIFlags([]string{"--port", "3000", "--origin", "http://dummyjson.com", "--clear-cache"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.port != 3000 || opts.origin != "http://dummyjson.com" || !opts.clearCache {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.configPath != "" {
		t.Fatalf("未指定配置时路径应为空，得到 %s", opts.configPath)
	}

	if _, err := parseCLIFlags([]string{"--port", "abc"}); err == nil {
		t.Fatalf("非法端口应返回错误")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.HasPrefix(stdOutBuffer().String(), "caching-proxy ") {
		t.Fatalf("version 输出应包含 caching-proxy 标识，得到 %q", stdOutBuffer().String())
	}
}

func TestRunInvalidConfig(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "invalid.toml")})
	if code != 1 {
		t.Fatalf("无效配置应返回 1，得到 %d", code)
	}
	if !strings.HasPrefix(stdErrBuffer().String(), "Error: ") {
		t.Fatalf("unexpected stderr %q", stdErrBuffer().String())
	}
}

func TestRunMissingConfigFile(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml")})
	if code != 1 {
		t.Fatalf("缺失配置文件应返回 1，得到 %d", code)
	}
}

func TestRunClearCache(t *testing.T) {
	configPath, cacheFile := sandboxConfig(t, "")
	if err := os.WriteFile(cacheFile, []byte(`{"GET|/items":{"StatusCode":200,"Headers":{},"ContentHeaders":{},"Body":""}}`), 0o600); err != nil {
		t.Fatalf("写入缓存失败: %v", err)
	}

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, clearCache: true})
	if code != 0 {
		t.Fatalf("clear-cache 应返回 0，得到 %d", code)
	}
	if got := stdOutBuffer().String(); got != "Cache cleared successfully!\n" {
		t.Fatalf("unexpected output %q", got)
	}
	if _, err := os.Stat(cacheFile); !os.IsNotExist(err) {
		t.Fatalf("缓存文件应被删除, stat err=%v", err)
	}
}

func TestRunClearCacheWithoutSnapshot(t *testing.T) {
	configPath, _ := sandboxConfig(t, "")

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, clearCache: true, port: 3000})
	if code != 0 {
		t.Fatalf("clear-cache 应优先于启动且返回 0，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "Cache cleared successfully!") {
		t.Fatalf("unexpected output %q", stdOutBuffer().String())
	}
}

func TestRunRequiresPortAndOrigin(t *testing.T) {
	configPath, _ := sandboxConfig(t, "")

	cases := []cliOptions{
		{configPath: configPath},
		{configPath: configPath, port: 3000},
		{configPath: configPath, origin: "http://dummyjson.com"},
	}
	want := "Error: Both --port and --origin are required when starting the server.\n" +
		"Usage: caching-proxy --port <number> --origin <url>\n" +
		"       caching-proxy --clear-cache\n"

	for _, opts := range cases {
		useBufferWriters(t)
		if code := run(opts); code != 2 {
			t.Fatalf("缺少参数应返回 2，得到 %d (%+v)", code, opts)
		}
		if got := stdOutBuffer().String(); got != want {
			t.Fatalf("unexpected usage output %q", got)
		}
	}
}

func TestRunRejectsInvalidOrigin(t *testing.T) {
	configPath, _ := sandboxConfig(t, "")

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, port: 3000, origin: "not a url"})
	if code != 1 {
		t.Fatalf("非法 origin 应返回 1，得到 %d", code)
	}
	if got := stdOutBuffer().String(); got != "Error: Invalid origin URL: not a url\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunRejectsInvalidFlagPort(t *testing.T) {
	configPath, _ := sandboxConfig(t, "")

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, port: 70000, origin: "http://dummyjson.com"})
	if code != 1 {
		t.Fatalf("越界端口应返回 1，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "Port") {
		t.Fatalf("错误应指明字段，得到 %q", stdErrBuffer().String())
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "from origin "+r.URL.Path)
	}))
	t.Cleanup(origin.Close)

	configPath, cacheFile := sandboxConfig(t, "")
	port := freePort(t)

	useBufferWriters(t)
	out := stdOutBuffer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() {
		done <- runContext(ctx, cliOptions{configPath: configPath, port: port, origin: origin.URL})
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 2 * time.Second}
	target := fmt.Sprintf("http://127.0.0.1:%d/items", port)

	var cacheStatuses []string
	deadline := time.Now().Add(5 * time.Second)
	for len(cacheStatuses) < 2 && time.Now().Before(deadline) {
		resp, err := client.Get(target)
		if err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "from origin /items" {
			t.Fatalf("unexpected body %q", body)
		}
		cacheStatuses = append(cacheStatuses, resp.Header.Get("X-Cache"))
	}
	if len(cacheStatuses) != 2 || cacheStatuses[0] != "MISS" || cacheStatuses[1] != "HIT" {
		t.Fatalf("expected MISS then HIT, got %v", cacheStatuses)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("优雅关闭应返回 0，得到 %d; output=%s", code, out.String())
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("服务未在超时时间内退出")
	}

	output := out.String()
	for _, line := range []string{
		fmt.Sprintf("Starting caching proxy server on port %d\n", port),
		"Forwarding requests to: " + origin.URL + "\n",
		"Press Ctrl+C to stop the server...\n",
	} {
		if !strings.Contains(output, line) {
			t.Fatalf("缺少启动输出 %q: %s", line, output)
		}
	}
	if !strings.HasSuffix(output, "\nServer stopped.\n") {
		t.Fatalf("缺少关闭输出: %q", output)
	}
	if _, err := os.Stat(cacheFile); err != nil {
		t.Fatalf("缓存快照应写入磁盘: %v", err)
	}
}

func TestRunReportsListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("无法占用端口: %v", err)
	}
	t.Cleanup(func() { _ = occupied.Close() })
	port := occupied.Addr().(*net.TCPAddr).Port

	configPath, _ := sandboxConfig(t, "")
	useBufferWriters(t)

	code := runContext(context.Background(), cliOptions{configPath: configPath, port: port, origin: "http://dummyjson.com"})
	if code != 1 {
		t.Fatalf("端口占用应返回 1，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "Error starting server: ") {
		t.Fatalf("缺少错误输出: %q", stdOutBuffer().String())
	}
}
