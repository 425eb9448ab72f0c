package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lattice "github.com/latticefn/lattice"
)

// GraphDebug logs the run's dependency plan, rendered via Plan.ToText, when
// a node construction fails. Adapted from the teacher's
// GraphDebugExtension: that extension reconstructed a textual dependency
// graph on the fly from a Scope's reactive-edge export; here the Plan
// already carries the full dependency structure, so OnError just renders it.
type GraphDebug struct {
	lattice.BaseExtension
	logger *slog.Logger
	rc     *lattice.RunContext
}

// NewGraphDebug creates a new graph debug extension.
func NewGraphDebug(handler slog.Handler) *GraphDebug {
	return &GraphDebug{
		BaseExtension: lattice.NewBaseExtension("graph-debug"),
		logger:        slog.New(handler),
	}
}

func (e *GraphDebug) Init(rc *lattice.RunContext) error {
	e.rc = rc
	return nil
}

// OnError logs the failing node and the run's full dependency plan.
func (e *GraphDebug) OnError(err error, op *lattice.Operation) {
	graphOutput := ""
	if e.rc != nil {
		graphOutput = e.rc.Plan().ToText()
	}

	e.logger.Error("node construction failed",
		"node", op.Node.Name(),
		"error", err.Error(),
		"operation", string(op.Kind),
		"dependency_graph", graphOutput,
	)
}

// OnRunPanic logs the recovered value and stack trace for a run that panicked.
func (e *GraphDebug) OnRunPanic(rc *lattice.RunContext, recovered any, stack []byte) error {
	e.logger.Error("run panicked",
		"panic", fmt.Sprintf("%v", recovered),
		"stack_trace", string(stack),
	)
	return nil
}

// SilentHandler is a slog.Handler that discards all log output. Useful for
// testing when log output is not wanted.
type SilentHandler struct{}

func NewSilentHandler() *SilentHandler { return &SilentHandler{} }

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool { return false }
func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error { return nil }
func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler             { return h }
func (h *SilentHandler) WithGroup(name string) slog.Handler                  { return h }

// HumanHandler is a slog.Handler that formats logs for human readability,
// giving "dependency_graph" and "stack_trace" attributes their own
// multi-line block instead of slog's single-line default.
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{writer: writer, level: level}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool { return level >= h.level }

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		v := a.Value.String()
		if strings.Contains(v, "\n") {
			if _, err := fmt.Fprintf(h.writer, "  %s:\n%s\n", a.Key, v); err != nil {
				writeErr = err
				return false
			}
			return true
		}
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, v); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *HumanHandler) WithGroup(name string) slog.Handler       { return h }
