package proxy

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/caching-proxy/caching-proxy/internal/cache"
	"github.com/caching-proxy/caching-proxy/internal/server"
)

// pipeline bundles a Fiber app wired like main does, with an in-memory store.
type pipeline struct {
	app     *fiber.App
	store   *cache.Store
	handler *Handler
	logs    *bytes.Buffer
}

func newPipeline(t *testing.T, forwarder RequestForwarder, opts Options) *pipeline {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logs)

	store := cache.NewStore(memfs.New(), "/home/dev/.caching-proxy-cache.json", logger)
	handler := NewHandler(forwarder, store, logger, opts)

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Proxy:  handler,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &pipeline{app: app, store: store, handler: handler, logs: logs}
}

// newOriginForwarder points a real Forwarder at an httptest origin.
func newOriginForwarder(t *testing.T, origin *httptest.Server) *Forwarder {
	t.Helper()
	base, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatalf("parse origin url: %v", err)
	}
	return NewForwarder(origin.Client(), base)
}

// originStub is a counting origin server that records the last request it saw.
type originStub struct {
	server *httptest.Server
	hits   atomic.Int32

	mu   sync.Mutex
	last *http.Request
	body []byte
}

func newOriginStub(t *testing.T, handler http.HandlerFunc) *originStub {
	t.Helper()
	stub := &originStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		stub.mu.Lock()
		stub.last = r.Clone(context.Background())
		stub.body = buf.Bytes()
		stub.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *originStub) lastRequest() (*http.Request, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.body
}

// fakeForwarder returns a canned response or error and counts calls.
type fakeForwarder struct {
	calls atomic.Int32
	resp  *cache.CachedResponse
	err   error
	fn    func(Request) (*cache.CachedResponse, error)
}

func (f *fakeForwarder) Forward(_ context.Context, req Request) (*cache.CachedResponse, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
