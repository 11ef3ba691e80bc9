package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/caching-proxy/caching-proxy/internal/cache"
	"github.com/caching-proxy/caching-proxy/internal/server"
)

// Request 描述一次入站请求，Forwarder 据此构造回源请求。
type Request struct {
	Method string
	// Path 为客户端发送的原始转义路径，不含查询串。
	Path        string
	RawQuery    string
	Header      http.Header
	Body        []byte
	ContentType string
}

// QueryString 返回带前导 "?" 的查询串，无查询时为空串。
func (r Request) QueryString() string {
	if r.RawQuery == "" {
		return ""
	}
	return "?" + r.RawQuery
}

// Forwarder 负责在缓存未命中时把请求转发到源站，并完整缓冲响应体。
type Forwarder struct {
	client *http.Client
	origin *url.URL
}

// NewForwarder 使用共享 http.Client 与源站基础地址构建 Forwarder。
func NewForwarder(client *http.Client, origin *url.URL) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{client: client, origin: origin}
}

// Forward 发送回源请求并返回完整缓冲的响应。网络错误、超时或响应体读取失败
// 统一包装为 *ForwardError。
func (f *Forwarder) Forward(ctx context.Context, req Request) (*cache.CachedResponse, error) {
	target := f.resolve(req)

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &ForwardError{Method: req.Method, URL: target.String(), Err: err}
	}
	server.CopyRequestHeaders(outbound.Header, req.Header)
	if len(req.Body) > 0 && req.ContentType != "" {
		outbound.Header.Set("Content-Type", req.ContentType)
	}

	started := time.Now()
	resp, err := f.client.Do(outbound)
	if err != nil {
		originDuration.Observe(time.Since(started).Seconds())
		return nil, &ForwardError{Method: req.Method, URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	originDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, &ForwardError{Method: req.Method, URL: target.String(), Err: err}
	}

	return cache.FromHTTP(resp.StatusCode, resp.Header, payload), nil
}

// resolve 以源站为基准解析 path+query；绝对路径会替换源站自带的路径。
// req.Path 是原始转义形式，通过 RawPath 原样保留到回源 URL。
func (f *Forwarder) resolve(req Request) *url.URL {
	escaped := req.Path
	if escaped == "" {
		escaped = "/"
	}
	relative := &url.URL{Path: escaped, RawQuery: req.RawQuery}
	if decoded, err := url.PathUnescape(escaped); err == nil {
		relative.Path = decoded
		relative.RawPath = escaped
	}
	return f.origin.ResolveReference(relative)
}
