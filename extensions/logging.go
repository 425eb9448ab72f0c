package extensions

import (
	"context"
	"log/slog"
	"time"

	lattice "github.com/latticefn/lattice"
)

// Logging records every node construction's duration and outcome through
// slog, generalizing the teacher's LoggingExtension (which printed straight
// to stdout) to structured logging.
type Logging struct {
	lattice.BaseExtension
	logger *slog.Logger
}

// NewLogging creates a logging extension writing through handler.
func NewLogging(handler slog.Handler) *Logging {
	return &Logging{
		BaseExtension: lattice.NewBaseExtension("logging"),
		logger:        slog.New(handler),
	}
}

func (e *Logging) Wrap(ctx context.Context, next func() (any, error), op *lattice.Operation) (any, error) {
	start := time.Now()
	e.logger.Debug("node starting", "node", op.Node.Name(), "operation", string(op.Kind))

	result, err := next()

	duration := time.Since(start)
	if err != nil {
		e.logger.Warn("node failed", "node", op.Node.Name(), "duration", duration, "error", err.Error())
	} else {
		e.logger.Debug("node completed", "node", op.Node.Name(), "duration", duration)
	}
	return result, err
}

func (e *Logging) OnRunStart(rc *lattice.RunContext) error {
	e.logger.Info("run starting")
	return nil
}

func (e *Logging) OnRunEnd(rc *lattice.RunContext, result any, err error) error {
	if err != nil {
		e.logger.Warn("run finished with error", "error", err.Error())
	} else {
		e.logger.Info("run finished")
	}
	return nil
}
