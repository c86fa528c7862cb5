package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crease/internal/logging"
)

// SignalSource publishes background on SIGUSR1 and active on SIGUSR2.
type SignalSource struct {
	hub    *Hub
	logger *slog.Logger
}

// NewSignalSource builds a SignalSource feeding hub.
func NewSignalSource(hub *Hub, logger *slog.Logger) *SignalSource {
	return &SignalSource{hub: hub, logger: logging.NewComponentLogger(logger, "lifecycle-signals")}
}

// Run forwards signals until ctx is done.
func (s *SignalSource) Run(ctx context.Context) error {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)

	s.logger.Debug("signal source started", logging.String(logging.FieldEventType, "lifecycle_signals_started"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			state, ok := stateForSignal(sig)
			if !ok {
				continue
			}
			s.logger.Info("lifecycle signal received",
				logging.String("signal", sig.String()),
				logging.String("state", string(state)),
			)
			s.hub.Publish(state)
		}
	}
}

func stateForSignal(sig os.Signal) (State, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return StateBackground, true
	case syscall.SIGUSR2:
		return StateActive, true
	default:
		return "", false
	}
}
