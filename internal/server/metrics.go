package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewMetricsApp builds the diagnostics listener: Prometheus metrics on
// /metrics and a liveness check on /healthz. It runs on its own port so the
// proxy listener keeps every path for the origin.
func NewMetricsApp(logger *logrus.Logger) *fiber.App {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
			logger.WithFields(logrus.Fields{
				"action": "metrics_error",
				"path":   c.Path(),
				"status": status,
			}).WithError(err).Warn("diagnostics request failed")
			return c.Status(status).SendString(err.Error())
		},
	})
	app.Use(recover.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}
