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

func TestLogging_WrapLogsSuccessAndFailure(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	type okValue string
	ok := lattice.Node0("ok", func(ctx *lattice.ConstructCtx) (okValue, error) {
		return "fine", nil
	})
	fails := lattice.Node1("fails", lattice.Concrete(ok), func(ctx *lattice.ConstructCtx, s okValue) (string, error) {
		return "", errors.New("boom")
	})

	plan, err := lattice.Graph(fails)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}

	rc := plan.Run().Configure(lattice.WithExtensions(NewLogging(handler)))
	_, err = rc.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	output := buf.String()
	if !strings.Contains(output, "node completed") || !strings.Contains(output, "node=ok") {
		t.Errorf("expected completion log for ok node, got: %s", output)
	}
	if !strings.Contains(output, "node failed") || !strings.Contains(output, "node=fails") {
		t.Errorf("expected failure log for fails node, got: %s", output)
	}
	if !strings.Contains(output, "run finished with error") {
		t.Errorf("expected run-level failure log, got: %s", output)
	}
}

func TestLogging_OnRunStartAndEnd(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	root := lattice.Node0("root", func(ctx *lattice.ConstructCtx) (int, error) {
		return 42, nil
	})

	plan, err := lattice.Graph(root)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}

	rc := plan.Run().Configure(lattice.WithExtensions(NewLogging(handler)))
	v, err := lattice.Execute[int](context.Background(), rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v != 42 {
		t.Errorf("got %d, want 42", v)
	}

	output := buf.String()
	if !strings.Contains(output, "run starting") {
		t.Errorf("expected run starting log, got: %s", output)
	}
	if !strings.Contains(output, "run finished") {
		t.Errorf("expected run finished log, got: %s", output)
	}
}
