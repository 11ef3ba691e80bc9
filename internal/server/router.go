package server

import (
	"errors"
	"slices"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler is the single request hook invoked for every inbound request.
// It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the proxy Fiber application behaves.
type AppOptions struct {
	Logger    *logrus.Logger
	Proxy     ProxyHandler
	BodyLimit int
}

const (
	contextKeyRequestID = "_caching_proxy_request_id"

	// CacheStatusHeader marks whether a response was replayed from the cache.
	CacheStatusHeader = "X-Cache"
)

// ExtensionMethods are accepted in addition to fiber.DefaultMethods so that
// WebDAV and cache-control verbs reach the proxy hook instead of a 501.
var ExtensionMethods = []string{
	"PURGE", "LINK", "UNLINK", "QUERY",
	"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
	"REPORT", "SEARCH", "MKCALENDAR", "ACL",
}

// RequestMethods returns every method the proxy app routes.
func RequestMethods() []string {
	return append(slices.Clone(fiber.DefaultMethods), ExtensionMethods...)
}

// NewApp builds the proxy Fiber application: recover and request-ID middleware
// followed by one catch-all route for every method and path.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}

	cfg := fiber.Config{
		CaseSensitive:  true,
		ErrorHandler:   errorHandler(opts.Logger),
		RequestMethods: RequestMethods(),
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，写入 Locals 与 X-Request-ID 响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler logs errors that escaped the proxy hook (including oversized
// bodies rejected by the server) before answering with Fiber's status code
// (500 when unknown). Such responses never come from the cache.
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		logger.WithFields(logrus.Fields{
			"action":     "server_error",
			"status":     status,
			"request_id": RequestID(c),
		}).WithError(err).Error("request failed outside the proxy pipeline")

		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		c.Set(CacheStatusHeader, "MISS")
		return c.Status(status).SendString(err.Error())
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
