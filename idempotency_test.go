package lattice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/latticefn/lattice/pkg/schema"
)

func TestIdempotent_ConcurrentCallersExecuteOnce(t *testing.T) {
	var calls int32
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			return Ok("result-for-" + k)
		}
	}).Key(func(k string) string { return k }).WithStore(NewMemoryStore[string]()).Build()

	const callers = 50
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := executor.Run(context.Background(), "order-1")
			results[i] = res.Value
			errs[i] = err
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected operation to run exactly once, ran %d times", calls)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "result-for-order-1" {
			t.Errorf("caller %d: unexpected value %q", i, results[i])
		}
	}
}

func TestIdempotent_OnPendingFailReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			<-release
			return Ok("done")
		}
	}).Key(func(k string) string { return k }).
		WithStore(NewMemoryStore[string]()).
		WithPolicy(NewPolicy().WithOnPending(OnPendingFail)).
		Build()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		executor.Run(context.Background(), "k")
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := executor.Run(context.Background(), "k")
	close(release)
	wg.Wait()

	if err == nil {
		t.Fatal("expected an in-flight error")
	}
	var idErr *IdempotencyError
	if !errors.As(err, &idErr) || idErr.Kind != IdempotencyInFlight {
		t.Errorf("expected IdempotencyInFlight, got %v", err)
	}
}

func TestIdempotent_OnPendingForceOverridesInFlight(t *testing.T) {
	var calls int32
	store := NewMemoryStore[string]()
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			atomic.AddInt32(&calls, 1)
			return Ok("forced")
		}
	}).Key(func(k string) string { return k }).
		WithStore(store).
		WithPolicy(NewPolicy().WithOnPending(OnPendingForce)).
		Build()

	store.Claim(context.Background(), "k", time.Now(), "")

	res, err := executor.Run(context.Background(), "k")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "forced" {
		t.Errorf("expected forced, got %q", res.Value)
	}
	if calls != 1 {
		t.Errorf("expected operation to run once, ran %d times", calls)
	}
}

func TestIdempotent_OnPendingWaitReclaimsStaleLease(t *testing.T) {
	var calls int32
	store := NewMemoryStore[string]()
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			atomic.AddInt32(&calls, 1)
			return Ok("reclaimed")
		}
	}).Key(func(k string) string { return k }).
		WithStore(store).
		WithPolicy(NewPolicy().WithPendingLease(5 * time.Millisecond).WithPendingWaitTimeout(2 * time.Second)).
		Build()

	store.Claim(context.Background(), "k", time.Now().Add(-1*time.Second), "")

	res, err := executor.Run(context.Background(), "k")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "reclaimed" {
		t.Errorf("expected reclaimed, got %q", res.Value)
	}
	if calls != 1 {
		t.Errorf("expected operation to run once, ran %d times", calls)
	}
}

func TestIdempotent_AlreadyDoneReturnsCachedValue(t *testing.T) {
	var calls int32
	store := NewMemoryStore[string]()
	store.Complete(context.Background(), "k", "cached-value", time.Hour)

	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			atomic.AddInt32(&calls, 1)
			return Ok("fresh-value")
		}
	}).Key(func(k string) string { return k }).WithStore(store).Build()

	res, err := executor.Run(context.Background(), "k")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.FromCache || res.Value != "cached-value" {
		t.Errorf("expected cached value returned, got %+v", res)
	}
	if calls != 0 {
		t.Errorf("expected operation not to run, ran %d times", calls)
	}
}

func TestIdempotent_PreviouslyFailedWithPersist(t *testing.T) {
	store := NewMemoryStore[string]()
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			return Err[string](errors.New("downstream rejected"))
		}
	}).Key(func(k string) string { return k }).
		WithStore(store).
		WithPolicy(NewPolicy().WithStoreFailed(true)).
		Build()

	_, err := executor.Run(context.Background(), "k")
	if err == nil {
		t.Fatal("expected first run to fail")
	}

	_, err = executor.Run(context.Background(), "k")
	var idErr *IdempotencyError
	if !errors.As(err, &idErr) || idErr.Kind != IdempotencyPreviouslyFailed {
		t.Errorf("expected IdempotencyPreviouslyFailed on retry, got %v", err)
	}
}

func TestIdempotent_FailureNotPersistedAllowsRetry(t *testing.T) {
	var calls int32
	store := NewMemoryStore[string]()
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return Err[string](errors.New("transient failure"))
			}
			return Ok("succeeded-on-retry")
		}
	}).Key(func(k string) string { return k }).WithStore(store).Build()

	if _, err := executor.Run(context.Background(), "k"); err == nil {
		t.Fatal("expected first run to fail")
	}

	res, err := executor.Run(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if res.Value != "succeeded-on-retry" {
		t.Errorf("unexpected value: %q", res.Value)
	}
}

func TestIdempotent_InputHashCollisionRejected(t *testing.T) {
	store := NewMemoryStore[string]()
	executor := Idempotent(func(k string) LazyAction[string] {
		return func(ctx context.Context) Result[string] { return Ok("v") }
	}).Key(func(k string) string { return "fixed-key" }).
		WithStore(store).
		WithPolicy(NewPolicy().WithInputFingerprint(true)).
		Build()

	if _, err := executor.Run(context.Background(), "input-a"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := executor.Run(context.Background(), "input-b")
	var idErr *IdempotencyError
	if !errors.As(err, &idErr) || idErr.Kind != IdempotencyConflict {
		t.Errorf("expected IdempotencyConflict on differing input, got %v", err)
	}
}

func TestIdempotent_WithInputSchemaRejectsInvalidInput(t *testing.T) {
	executor := Idempotent(func(k int) LazyAction[string] {
		return func(ctx context.Context) Result[string] { return Ok("v") }
	}).Key(func(k int) string { return "k" }).
		WithStore(NewMemoryStore[string]()).
		WithPolicy(NewPolicy().WithInputSchema(&schema.NumberSchema{Positive: true})).
		Build()

	_, err := executor.Run(context.Background(), -5)
	var idErr *IdempotencyError
	if !errors.As(err, &idErr) || idErr.Kind != IdempotencyInvalidInput {
		t.Fatalf("expected IdempotencyInvalidInput, got %v", err)
	}
}

func TestMemoryStore_PurgeExpiredRemovesStaleRecords(t *testing.T) {
	store := NewMemoryStore[string]()
	store.Complete(context.Background(), "stale", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	store.PurgeExpired(context.Background(), time.Now())

	if _, ok, _ := store.Get(context.Background(), "stale"); ok {
		t.Error("expected expired record purged")
	}
}

func TestFunctionalStore_DelegatesToFunctions(t *testing.T) {
	backing := NewMemoryStore[int]()
	fs := StoreFrom[int](backing)

	outcome, err := fs.Claim(context.Background(), "k", time.Now(), "")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if outcome.Kind != ClaimKindClaimed {
		t.Errorf("expected ClaimKindClaimed, got %v", outcome.Kind)
	}
	if err := fs.Complete(context.Background(), "k", 42, time.Hour); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	rec, ok, err := fs.Get(context.Background(), "k")
	if err != nil || !ok || rec.Value != 42 {
		t.Errorf("unexpected Get result: %+v ok=%v err=%v", rec, ok, err)
	}
}
