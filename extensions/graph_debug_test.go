package extensions

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	lattice "github.com/latticefn/lattice"
)

func TestGraphDebug_OnError(t *testing.T) {
	var buf bytes.Buffer
	handler := NewHumanHandler(&buf, slog.LevelError)

	type storageHandle string
	storage := lattice.Node0("storage", func(ctx *lattice.ConstructCtx) (storageHandle, error) {
		return "storage", nil
	})
	userService := lattice.Node1("user-service", lattice.Concrete(storage),
		func(ctx *lattice.ConstructCtx, s storageHandle) (string, error) {
			return "", errors.New("type assertion failed: expected *User, got *string")
		},
	)

	plan, err := lattice.Graph(userService)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}

	rc := plan.Run().Configure(lattice.WithExtensions(NewGraphDebug(handler)))
	_, err = rc.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error but got nil")
	}

	output := buf.String()
	if !strings.Contains(output, "node construction failed") {
		t.Errorf("expected failure message in output, got: %s", output)
	}
	if !strings.Contains(output, "user-service") {
		t.Errorf("expected failing node name in output, got: %s", output)
	}
	if !strings.Contains(output, "storage") {
		t.Errorf("expected dependency graph with upstream node name, got: %s", output)
	}
}

func TestGraphDebug_SilentHandlerDiscardsOutput(t *testing.T) {
	logger := slog.New(NewSilentHandler())
	logger.Error("should not appear anywhere")
	// No assertion beyond "does not panic" — SilentHandler.Handle always
	// returns nil and Enabled always false, so nothing is ever written.
}

func TestHumanHandler_MultilineAttributeGetsItsOwnBlock(t *testing.T) {
	var buf bytes.Buffer
	handler := NewHumanHandler(&buf, slog.LevelInfo)
	logger := slog.New(handler)

	logger.Info("run failed", "dependency_graph", "a <- b\nb (leaf)\n")

	output := buf.String()
	if !strings.Contains(output, "dependency_graph:") {
		t.Errorf("expected dependency_graph block header, got: %s", output)
	}
	if !strings.Contains(output, "a <- b") {
		t.Errorf("expected rendered graph body, got: %s", output)
	}
}

func TestGraphDebug_OnRunPanicLogsRecoveredValue(t *testing.T) {
	var buf bytes.Buffer
	handler := NewHumanHandler(&buf, slog.LevelError)

	boom := lattice.Node0("boom", func(ctx *lattice.ConstructCtx) (string, error) {
		panic("kaboom")
	})

	plan, err := lattice.Graph(boom)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}

	rc := plan.Run().Configure(lattice.WithExtensions(NewGraphDebug(handler)))
	_, err = rc.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}

	if !strings.Contains(buf.String(), "kaboom") {
		t.Errorf("expected panic value in output, got: %s", buf.String())
	}
}
