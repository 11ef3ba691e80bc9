package server

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Serve runs app on ln until ctx is cancelled, then shuts the app down within
// timeout. In-flight requests are drained, not cancelled. A listener failure
// before cancellation is returned as is.
func Serve(ctx context.Context, app *fiber.App, ln net.Listener, timeout time.Duration, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fields := logrus.Fields{
		"action":  "shutdown",
		"addr":    ln.Addr().String(),
		"timeout": timeout.String(),
	}
	logger.WithFields(fields).Info("server stopping")

	shutdownErr := app.ShutdownWithTimeout(timeout)
	// Shutdown may race with Listener registering ln; closing it unblocks Accept.
	_ = ln.Close()
	<-errCh

	if shutdownErr != nil {
		logger.WithFields(fields).WithError(shutdownErr).Warn("graceful shutdown incomplete")
		return shutdownErr
	}
	return nil
}
