package runtime

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SignalContext is canceled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Stopper is one step of a graceful shutdown.
type Stopper struct {
	Name string
	Stop func(context.Context) error
}

// Shutdown runs stoppers in order under one shared deadline. A failing step
// is logged and does not prevent the rest from running.
func Shutdown(logger *zap.Logger, timeout time.Duration, stoppers ...Stopper) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, s := range stoppers {
		if s.Stop == nil {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			logger.Error("shutdown step failed", zap.String("step", s.Name), zap.Error(err))
			continue
		}
		logger.Info("stopped", zap.String("step", s.Name))
	}
}
