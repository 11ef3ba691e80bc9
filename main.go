package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/caching-proxy/caching-proxy/internal/cache"
	"github.com/caching-proxy/caching-proxy/internal/config"
	"github.com/caching-proxy/caching-proxy/internal/logging"
	"github.com/caching-proxy/caching-proxy/internal/proxy"
	"github.com/caching-proxy/caching-proxy/internal/server"
	"github.com/caching-proxy/caching-proxy/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	port        int
	origin      string
	clearCache  bool
	showVersion bool
}

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(exitUsage)
	}
	os.Exit(run(opts))
}

// run 注册 SIGINT/SIGTERM 后执行 CLI 流程，返回退出码。
func run(opts cliOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, opts)
}

// runContext 按 “版本 → 配置 → 日志 → 缓存 → 清空/校验 → 启动服务” 的顺序执行；
// ctx 取消即触发优雅关闭。
func runContext(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "Error: %v\n", err)
		return exitError
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}
	if opts.origin != "" {
		cfg.Origin = opts.origin
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stdErr, "Error: %v\n", err)
		return exitError
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "Error: %v\n", err)
		return exitError
	}

	store := cache.NewStore(osfs.New("/"), cfg.CacheFile, logger)

	if opts.clearCache {
		store.Clear()
		fields := logging.BaseFields("cache_clear", opts.configPath)
		fields["cache_file"] = store.Path()
		logger.WithFields(fields).Info("缓存已清空")
		fmt.Fprintln(stdOut, "Cache cleared successfully!")
		return exitOK
	}

	if !cfg.ServerReady() {
		printUsage()
		return exitUsage
	}

	origin, err := config.ParseOrigin(cfg.Origin)
	if err != nil {
		fmt.Fprintf(stdOut, "Error: Invalid origin URL: %s\n", cfg.Origin)
		return exitError
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Port
	fields["origin"] = origin.String()
	fields["cache_file"] = store.Path()
	fields["cache_entries"] = store.Len()
	fields["metrics_port"] = cfg.MetricsPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	fmt.Fprintf(stdOut, "Starting caching proxy server on port %d\n", cfg.Port)
	fmt.Fprintf(stdOut, "Forwarding requests to: %s\n", cfg.Origin)
	fmt.Fprintln(stdOut, "Press Ctrl+C to stop the server...")

	if err := startHTTPServer(ctx, cfg, origin, store, logger); err != nil {
		fmt.Fprintf(stdOut, "Error starting server: %v\n", err)
		return exitError
	}

	fmt.Fprintln(stdOut, "\nServer stopped.")
	return exitOK
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("caching-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.IntVar(&opts.port, "port", 0, "代理监听端口")
	fs.StringVar(&opts.origin, "origin", "", "源站基础 URL")
	fs.BoolVar(&opts.clearCache, "clear-cache", false, "清空缓存快照后退出")
	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 CACHING_PROXY_CONFIG 覆盖，缺省时仅用默认值）")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	opts.configPath = os.Getenv("CACHING_PROXY_CONFIG")
	if configFlag != "" {
		opts.configPath = configFlag
	}
	return opts, nil
}

func printUsage() {
	fmt.Fprintln(stdOut, "Error: Both --port and --origin are required when starting the server.")
	fmt.Fprintln(stdOut, "Usage: caching-proxy --port <number> --origin <url>")
	fmt.Fprintln(stdOut, "       caching-proxy --clear-cache")
}

func startHTTPServer(ctx context.Context, cfg *config.Config, origin *url.URL, store *cache.Store, logger *logrus.Logger) error {
	client := server.NewUpstreamClient(cfg)
	handler := proxy.NewHandler(
		proxy.NewForwarder(client, origin),
		store,
		logger,
		proxy.Options{CoalesceMisses: cfg.CoalesceMisses},
	)

	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		Proxy:     handler,
		BodyLimit: cfg.BodyLimit,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}

	var metricsLn net.Listener
	if cfg.MetricsPort > 0 {
		metricsLn, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.MetricsPort))
		if err != nil {
			_ = ln.Close()
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.Port,
	}).Info("Fiber 服务启动")

	group, groupCtx := errgroup.WithContext(ctx)
	shutdown := cfg.ShutdownTimeout.DurationValue()

	group.Go(func() error {
		return server.Serve(groupCtx, app, ln, shutdown, logger)
	})
	if metricsLn != nil {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   cfg.MetricsPort,
		}).Info("metrics 服务启动")
		group.Go(func() error {
			return server.Serve(groupCtx, server.NewMetricsApp(logger), metricsLn, shutdown, logger)
		})
	}

	err = group.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
