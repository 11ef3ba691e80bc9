package proxy

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"

	"github.com/caching-proxy/caching-proxy/internal/cache"
	"github.com/caching-proxy/caching-proxy/internal/logging"
	"github.com/caching-proxy/caching-proxy/internal/server"
)

const (
	// CacheStatusHeader 标记响应来自缓存（HIT）还是源站（MISS）。
	CacheStatusHeader = server.CacheStatusHeader

	cacheHit   = "HIT"
	cacheMiss  = "MISS"
	cacheError = "ERROR"
)

// RequestForwarder 在缓存未命中时回源；测试中可替换为假实现。
type RequestForwarder interface {
	Forward(ctx context.Context, req Request) (*cache.CachedResponse, error)
}

// ResponseCache 是 Handler 依赖的缓存读写能力，由 *cache.Store 实现。
type ResponseCache interface {
	Get(key string) (*cache.CachedResponse, bool)
	Put(key string, resp *cache.CachedResponse)
}

// Options 控制 Handler 的可选行为。
type Options struct {
	// CoalesceMisses 让同一缓存键的并发未命中共享一次回源。
	CoalesceMisses bool
}

// Handler 负责 orchestrate “计算缓存键 → 命中回放 / 未命中回源并写缓存” 的全流程，
// 每个请求恰好写出一次响应。
type Handler struct {
	forwarder RequestForwarder
	store     ResponseCache
	logger    *logrus.Logger
	coalesce  bool
	inflight  singleflight.Group
}

// NewHandler constructs the proxy pipeline around a forwarder and a cache.
func NewHandler(forwarder RequestForwarder, store ResponseCache, logger *logrus.Logger, opts Options) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		forwarder: forwarder,
		store:     store,
		logger:    logger,
		coalesce:  opts.CoalesceMisses,
	}
}

// Handle 实现 server.ProxyHandler。任何错误或 panic 都转换为 500 纯文本响应。
func (h *Handler) Handle(c fiber.Ctx) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)
	req := Request{Method: c.Method()}

	defer func() {
		if r := recover(); r != nil {
			err = h.writeError(c, req, requestID, started, fmt.Errorf("panic: %v", r))
		}
	}()

	req = inboundRequest(c)
	key := cache.BuildKey(req.Method, req.Path, req.QueryString(), req.Header)

	if record, ok := h.store.Get(key); ok {
		writeRecord(c, record, cacheHit)
		requestsTotal.WithLabelValues(cacheHit).Inc()
		h.logResult(req, requestID, cacheHit, record.StatusCode, started, nil)
		return nil
	}

	// 回源不随服务关闭而取消，只受 client 超时约束。
	ctx := context.WithoutCancel(c.Context())
	record, fetchErr := h.fetch(ctx, key, req)
	if fetchErr != nil {
		return h.writeError(c, req, requestID, started, fetchErr)
	}

	writeRecord(c, record, cacheMiss)
	requestsTotal.WithLabelValues(cacheMiss).Inc()
	h.logResult(req, requestID, cacheMiss, record.StatusCode, started, nil)
	return nil
}

// fetch 回源并写入缓存；开启 CoalesceMisses 时同一 key 的并发请求共享结果。
func (h *Handler) fetch(ctx context.Context, key string, req Request) (*cache.CachedResponse, error) {
	if !h.coalesce {
		return h.forwardAndStore(ctx, key, req)
	}

	value, err, _ := h.inflight.Do(key, func() (interface{}, error) {
		return h.forwardAndStore(ctx, key, req)
	})
	if err != nil {
		return nil, err
	}
	return value.(*cache.CachedResponse), nil
}

func (h *Handler) forwardAndStore(ctx context.Context, key string, req Request) (*cache.CachedResponse, error) {
	record, err := h.forwarder.Forward(ctx, req)
	if err != nil {
		forwardErrors.Inc()
		return nil, err
	}
	h.store.Put(key, record)
	return record, nil
}

// writeRecord 回放状态码、普通头与实体头（跳过受限响应头），追加 X-Cache 后写入 body。
func writeRecord(c fiber.Ctx, record *cache.CachedResponse, cacheStatus string) {
	resp := c.Response()
	resp.SetStatusCode(record.StatusCode)
	replayHeaders(&resp.Header, record.Headers)
	replayHeaders(&resp.Header, record.ContentHeaders)
	resp.Header.Set(CacheStatusHeader, cacheStatus)
	resp.SetBody(record.Body)
}

func replayHeaders(dst *fasthttp.ResponseHeader, headers map[string][]string) {
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		if server.IsRestrictedResponseHeader(name) {
			continue
		}
		dst.Del(name)
		for _, value := range headers[name] {
			dst.Add(name, value)
		}
	}
}

// writeError 丢弃已写入的部分响应，改写为 500 纯文本。
func (h *Handler) writeError(c fiber.Ctx, req Request, requestID string, started time.Time, cause error) error {
	resp := c.Response()
	resp.Header.Reset()
	resp.ResetBody()
	resp.SetStatusCode(fiber.StatusInternalServerError)
	resp.Header.SetContentType(fiber.MIMETextPlainCharsetUTF8)
	resp.Header.Set(CacheStatusHeader, cacheMiss)
	if requestID != "" {
		resp.Header.Set("X-Request-ID", requestID)
	}
	resp.SetBodyString("Proxy Error: " + cause.Error())

	requestsTotal.WithLabelValues(cacheError).Inc()
	h.logResult(req, requestID, cacheMiss, fiber.StatusInternalServerError, started, cause)
	return nil
}

func (h *Handler) logResult(req Request, requestID, cacheStatus string, status int, started time.Time, err error) {
	fields := logging.RequestFields(req.Method, req.Path, cacheStatus)
	fields["query"] = req.RawQuery
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}

	if err != nil {
		h.logger.WithFields(fields).WithError(err).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// inboundRequest 复制 fasthttp 复用的缓冲区，得到可跨 goroutine 使用的请求描述。
func inboundRequest(c fiber.Ctx) Request {
	uri := c.Request().URI()
	// 保留客户端原始转义（如 %2F），缓存键与回源路径都基于它。
	path := string(uri.PathOriginal())
	if path == "" {
		path = "/"
	}
	return Request{
		Method:      c.Method(),
		Path:        path,
		RawQuery:    string(uri.QueryString()),
		Header:      fiberHeadersAsHTTP(c),
		Body:        append([]byte(nil), c.Request().Body()...),
		ContentType: string(c.Request().Header.ContentType()),
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}
