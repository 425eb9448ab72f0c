package lattice

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunTrace_RecordsEachNodeConstruction(t *testing.T) {
	type dbHost string
	dbConfig := Node0("dbConfig", func(ctx *ConstructCtx) (dbHost, error) {
		return "localhost:5432", nil
	})
	fetchUser := Node1("fetchUser", Concrete(dbConfig), func(ctx *ConstructCtx, host dbHost) (string, error) {
		return "user-from-" + string(host), nil
	})

	plan, err := Graph(fetchUser)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	rc := plan.Run()
	val, err := Execute[string](context.Background(), rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if val != "user-from-localhost:5432" {
		t.Errorf("expected 'user-from-localhost:5432', got %q", val)
	}

	records := rc.Trace().Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 trace records, got %d", len(records))
	}
	byName := map[string]NodeRecord{}
	for _, r := range records {
		byName[r.Name] = r
	}
	if _, ok := byName["dbConfig"]; !ok {
		t.Error("expected a record for dbConfig")
	}
	if _, ok := byName["fetchUser"]; !ok {
		t.Error("expected a record for fetchUser")
	}
	for name, r := range byName {
		if r.Err != nil {
			t.Errorf("record %s: unexpected error %v", name, r.Err)
		}
		if r.End.Before(r.Start) {
			t.Errorf("record %s: End before Start", name)
		}
	}
}

func TestRunTrace_RecordsFailure(t *testing.T) {
	failing := Node0("failing", func(ctx *ConstructCtx) (int, error) {
		return 0, errors.New("boom")
	})

	plan, err := Graph(failing)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	rc := plan.Run()
	_, err = rc.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	records := rc.Trace().Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 trace record, got %d", len(records))
	}
	if records[0].Err == nil {
		t.Error("expected the record's Err to carry the construction failure")
	}
}

func TestRunTrace_EvictsOldestPastLimit(t *testing.T) {
	trace := newRunTrace(2)
	first := trace.begin("a")
	trace.end(first, nil)
	second := trace.begin("b")
	trace.end(second, nil)
	third := trace.begin("c")
	trace.end(third, nil)

	records := trace.Records()
	if len(records) != 2 {
		t.Fatalf("expected eviction to cap at 2 records, got %d", len(records))
	}
	if records[0].Name != "b" || records[1].Name != "c" {
		t.Errorf("expected oldest record evicted, got %v", []string{records[0].Name, records[1].Name})
	}
}

func TestRunTrace_TimingReflectsConstructionDuration(t *testing.T) {
	slow := Node0("slow", func(ctx *ConstructCtx) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	})
	plan, err := Graph(slow)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	rc := plan.Run()
	if _, err := Execute[int](context.Background(), rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	records := rc.Trace().Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if d := records[0].End.Sub(records[0].Start); d < 15*time.Millisecond {
		t.Errorf("expected recorded duration to reflect the sleep, got %s", d)
	}
}
