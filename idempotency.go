package lattice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/latticefn/lattice/pkg/schema"
)

// RecordState is the lifecycle state of an IdempotencyRecord.
type RecordState int

const (
	RecordPending RecordState = iota
	RecordDone
	RecordFailed
)

// IdempotencyRecord is a stored record of one keyed operation.
type IdempotencyRecord[T any] struct {
	Key       string
	State     RecordState
	Value     T
	Err       error
	InputHash string
	CreatedAt time.Time
}

// ClaimKind is the outcome of a Store.Claim/ForceClaim call.
type ClaimKind int

const (
	ClaimKindClaimed ClaimKind = iota
	ClaimKindAlreadyDone
	ClaimKindInFlight
	ClaimKindCollidedInputHash
	ClaimKindFailed
)

// ClaimOutcome is the result of attempting to claim a key.
type ClaimOutcome[T any] struct {
	Kind   ClaimKind
	Value  T
	Record IdempotencyRecord[T]
}

// Store is the idempotency backing contract. Claim MUST be atomic: of any
// number of concurrent claims on the same key, exactly one observes
// ClaimKindClaimed.
//
// ForceClaim and Delete go beyond the five operations a minimal reading of
// the contract (claim/complete/fail/get/purge_expired) would suggest.
// ForceClaim gives the FORCE on-pending policy and stale pending-lease
// reclaim a way to overwrite a record unconditionally instead of racing a
// plain Claim against the very record it's trying to replace. Delete backs
// the non-persist-failed path and the pending-slot rollback when the
// wrapped operation itself fails to run — both of which the original
// implementation's store protocol exposes directly as delete(key).
type Store[T any] interface {
	Claim(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error)
	ForceClaim(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error)
	Complete(ctx context.Context, key string, value T, ttl time.Duration) error
	Fail(ctx context.Context, key string, err error, ttl time.Duration) error
	Get(ctx context.Context, key string) (IdempotencyRecord[T], bool, error)
	Delete(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context, now time.Time) error
}

// OnPendingStrategy controls how Run behaves when it observes a key already
// claimed by another caller.
type OnPendingStrategy int

const (
	OnPendingWait OnPendingStrategy = iota
	OnPendingFail
	OnPendingForce
)

// Policy configures idempotent execution. NewPolicy returns the defaults
// (wait for pending, 30s wait timeout, 10s pending lease, no
// fingerprinting, failures not persisted); the zero value also waits for
// pending, but with no wait timeout and no pending lease. Every With* method returns a
// modified copy, grounded on the original implementation's fluent,
// immutable Policy builder.
type Policy struct {
	resultTTL          time.Duration
	onPending          OnPendingStrategy
	pendingWaitTimeout time.Duration
	pendingLease       time.Duration
	inputFingerprint   bool
	persistFailed      bool
	failureTTL         time.Duration
	inputSchema        schema.Schema
}

// NewPolicy returns the documented defaults rather than the bare zero value.
func NewPolicy() Policy {
	return Policy{
		onPending:          OnPendingWait,
		pendingWaitTimeout: 30 * time.Second,
		pendingLease:       10 * time.Second,
	}
}

func (p Policy) WithTTL(d time.Duration) Policy              { p.resultTTL = d; return p }
func (p Policy) WithOnPending(s OnPendingStrategy) Policy    { p.onPending = s; return p }
func (p Policy) WithPendingWaitTimeout(d time.Duration) Policy {
	p.pendingWaitTimeout = d
	return p
}
func (p Policy) WithPendingLease(d time.Duration) Policy { p.pendingLease = d; return p }
func (p Policy) WithInputFingerprint(b bool) Policy      { p.inputFingerprint = b; return p }
func (p Policy) WithFailureTTL(d time.Duration) Policy   { p.failureTTL = d; return p }
func (p Policy) WithStoreFailed(b bool) Policy           { p.persistFailed = b; return p }

// WithInputSchema validates every input against s before it is claimed, so
// a malformed input is rejected before it ever occupies a key.
func (p Policy) WithInputSchema(s schema.Schema) Policy { p.inputSchema = s; return p }

func (p Policy) effectiveFailureTTL() time.Duration {
	if p.failureTTL > 0 {
		return p.failureTTL
	}
	return p.resultTTL
}

// IdempotencyErrorKind classifies an IdempotencyError.
type IdempotencyErrorKind int

const (
	IdempotencyConflict IdempotencyErrorKind = iota
	IdempotencyInFlight
	IdempotencyPreviouslyFailed
	IdempotencyOperationFailed
	IdempotencyStoreError
	IdempotencyTimeout
	IdempotencyStaleLease
	IdempotencyInvalidInput
)

// IdempotencyError is returned by an IdempotentExecutor's Run.
type IdempotencyError struct {
	Kind    IdempotencyErrorKind
	Message string
	Inner   error
}

func (e *IdempotencyError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Inner)
	}
	return e.Message
}

func (e *IdempotencyError) Unwrap() error { return e.Inner }

// IdempotencyResult is the successful outcome of an IdempotentExecutor.Run.
type IdempotencyResult[T any] struct {
	Value     T
	FromCache bool
	Key       string
}

// IdempotentExecutor guarantees that, across all concurrent or retried
// invocations sharing a key, its operation executes at most once to success
// and every caller observes the same value until the policy's TTL expires.
// Replicates the branching of the original implementation's
// run_idempotent as ordinary sequential Go control flow rather than a
// polymorphic node graph.
type IdempotentExecutor[K comparable, T any] struct {
	keyFn     func(K) string
	operation func(K) LazyAction[T]
	store     Store[T]
	policy    Policy
}

// IdempotentBuilder fluently assembles an IdempotentExecutor.
type IdempotentBuilder[K comparable, T any] struct {
	keyFn     func(K) string
	operation func(K) LazyAction[T]
	store     Store[T]
	policy    Policy
}

// Idempotent starts a builder around operation.
func Idempotent[K comparable, T any](operation func(K) LazyAction[T]) *IdempotentBuilder[K, T] {
	return &IdempotentBuilder[K, T]{operation: operation, policy: NewPolicy()}
}

func (b *IdempotentBuilder[K, T]) Key(fn func(K) string) *IdempotentBuilder[K, T] {
	b.keyFn = fn
	return b
}

func (b *IdempotentBuilder[K, T]) WithPolicy(p Policy) *IdempotentBuilder[K, T] {
	b.policy = p
	return b
}

func (b *IdempotentBuilder[K, T]) WithStore(s Store[T]) *IdempotentBuilder[K, T] {
	b.store = s
	return b
}

func (b *IdempotentBuilder[K, T]) Build() *IdempotentExecutor[K, T] {
	return &IdempotentExecutor[K, T]{
		keyFn:     b.keyFn,
		operation: b.operation,
		store:     b.store,
		policy:    b.policy,
	}
}

// Run executes the operation for input at most once per key, per the
// configured Policy.
func (e *IdempotentExecutor[K, T]) Run(ctx context.Context, input K) (IdempotencyResult[T], error) {
	var zero IdempotencyResult[T]

	if e.policy.inputSchema != nil {
		if _, err := e.policy.inputSchema.Validate(input); err != nil {
			return zero, &IdempotencyError{Kind: IdempotencyInvalidInput, Message: "input failed schema validation", Inner: err}
		}
	}

	key := e.keyFn(input)

	hash, err := e.fingerprint(input)
	if err != nil {
		return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "fingerprinting input", Inner: err}
	}

	outcome, err := e.store.Claim(ctx, key, time.Now(), hash)
	if err != nil {
		return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "claim", Inner: err}
	}
	return e.handleClaim(ctx, key, input, hash, outcome)
}

func (e *IdempotentExecutor[K, T]) handleClaim(ctx context.Context, key string, input K, hash string, outcome ClaimOutcome[T]) (IdempotencyResult[T], error) {
	var zero IdempotencyResult[T]

	switch outcome.Kind {
	case ClaimKindClaimed:
		return e.execute(ctx, key, input)

	case ClaimKindAlreadyDone:
		return IdempotencyResult[T]{Value: outcome.Value, FromCache: true, Key: key}, nil

	case ClaimKindCollidedInputHash:
		return zero, &IdempotencyError{Kind: IdempotencyConflict, Message: fmt.Sprintf("key reused with different input: %s", key)}

	case ClaimKindFailed:
		return zero, &IdempotencyError{Kind: IdempotencyPreviouslyFailed, Message: "previously failed", Inner: outcome.Record.Err}

	case ClaimKindInFlight:
		switch e.policy.onPending {
		case OnPendingFail:
			return zero, &IdempotencyError{Kind: IdempotencyInFlight, Message: fmt.Sprintf("in flight: %s", key)}
		case OnPendingForce:
			if _, err := e.store.ForceClaim(ctx, key, time.Now(), hash); err != nil {
				return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "force claim", Inner: err}
			}
			return e.execute(ctx, key, input)
		default:
			return e.wait(ctx, key, input, hash, outcome.Record.CreatedAt)
		}
	}

	return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "unrecognized claim outcome"}
}

// wait polls the store until the pending record resolves, the pending lease
// expires (in which case this caller reclaims the key itself, guaranteeing
// eventual progress), or the policy's wait timeout elapses.
func (e *IdempotentExecutor[K, T]) wait(ctx context.Context, key string, input K, hash string, claimedAt time.Time) (IdempotencyResult[T], error) {
	var zero IdempotencyResult[T]
	const pollInterval = 100 * time.Millisecond
	deadline := time.Now().Add(e.policy.pendingWaitTimeout)
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}

		rec, ok, err := e.store.Get(ctx, key)
		if err != nil {
			return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "get while waiting", Inner: err}
		}
		if ok {
			switch rec.State {
			case RecordDone:
				return IdempotencyResult[T]{Value: rec.Value, FromCache: true, Key: key}, nil
			case RecordFailed:
				return zero, &IdempotencyError{Kind: IdempotencyOperationFailed, Message: "operation failed while waiting", Inner: rec.Err}
			case RecordPending:
				if e.policy.pendingLease > 0 && time.Now().After(claimedAt.Add(e.policy.pendingLease)) {
					forced, err := e.store.ForceClaim(ctx, key, time.Now(), hash)
					if err != nil {
						return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "reclaim stale lease", Inner: err}
					}
					if forced.Kind == ClaimKindClaimed {
						return e.execute(ctx, key, input)
					}
				}
			}
		} else {
			reclaimed, err := e.store.Claim(ctx, key, time.Now(), hash)
			if err != nil {
				return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "reclaim vacated key", Inner: err}
			}
			if reclaimed.Kind == ClaimKindClaimed {
				return e.execute(ctx, key, input)
			}
		}

		if time.Now().After(deadline) {
			return zero, &IdempotencyError{Kind: IdempotencyTimeout, Message: "timeout waiting for pending operation"}
		}
		timer.Reset(pollInterval)
	}
}

func (e *IdempotentExecutor[K, T]) execute(ctx context.Context, key string, input K) (IdempotencyResult[T], error) {
	var zero IdempotencyResult[T]
	r := e.operation(input).Run(ctx)
	if r.IsErr() {
		if e.policy.persistFailed {
			if err := e.store.Fail(ctx, key, r.Error(), e.policy.effectiveFailureTTL()); err != nil {
				return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "recording failure", Inner: err}
			}
		} else {
			_ = e.store.Delete(ctx, key)
		}
		return zero, &IdempotencyError{Kind: IdempotencyOperationFailed, Message: "operation returned error", Inner: r.Error()}
	}

	v, _ := r.Unwrap()
	if err := e.store.Complete(ctx, key, v, e.policy.resultTTL); err != nil {
		return zero, &IdempotencyError{Kind: IdempotencyStoreError, Message: "recording completion", Inner: err}
	}
	return IdempotencyResult[T]{Value: v, FromCache: false, Key: key}, nil
}

func (e *IdempotentExecutor[K, T]) fingerprint(input K) (string, error) {
	if !e.policy.inputFingerprint {
		return "", nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// memRecord is MemoryStore's internal representation, carrying an absolute
// expiry so Get/Claim can lazily evict stale entries the way the original
// implementation's in-memory store does.
type memRecord[T any] struct {
	state     RecordState
	value     T
	err       error
	inputHash string
	createdAt time.Time
	expiresAt time.Time
}

func (r *memRecord[T]) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

func (r *memRecord[T]) toRecord(key string) IdempotencyRecord[T] {
	return IdempotencyRecord[T]{
		Key:       key,
		State:     r.state,
		Value:     r.value,
		Err:       r.err,
		InputHash: r.inputHash,
		CreatedAt: r.createdAt,
	}
}

// MemoryStore is an in-process Store backed by a mutex-guarded map. Claim is
// atomic because the whole decision is made under one lock.
type MemoryStore[T any] struct {
	mu   sync.Mutex
	data map[string]*memRecord[T]
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{data: make(map[string]*memRecord[T])}
}

func (s *MemoryStore[T]) Claim(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[key]
	if !ok || rec.expired(now) {
		s.data[key] = &memRecord[T]{state: RecordPending, inputHash: inputHash, createdAt: now}
		return ClaimOutcome[T]{Kind: ClaimKindClaimed}, nil
	}

	switch rec.state {
	case RecordPending:
		return ClaimOutcome[T]{Kind: ClaimKindInFlight, Record: rec.toRecord(key)}, nil
	case RecordDone:
		if inputHash != "" && rec.inputHash != "" && inputHash != rec.inputHash {
			return ClaimOutcome[T]{Kind: ClaimKindCollidedInputHash}, nil
		}
		return ClaimOutcome[T]{Kind: ClaimKindAlreadyDone, Value: rec.value}, nil
	default: // RecordFailed
		return ClaimOutcome[T]{Kind: ClaimKindFailed, Record: rec.toRecord(key)}, nil
	}
}

func (s *MemoryStore[T]) ForceClaim(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &memRecord[T]{state: RecordPending, inputHash: inputHash, createdAt: now}
	return ClaimOutcome[T]{Kind: ClaimKindClaimed}, nil
}

func (s *MemoryStore[T]) Complete(ctx context.Context, key string, value T, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		rec = &memRecord[T]{createdAt: time.Now()}
		s.data[key] = rec
	}
	rec.state = RecordDone
	rec.value = value
	rec.err = nil
	if ttl > 0 {
		rec.expiresAt = time.Now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore[T]) Fail(ctx context.Context, key string, failErr error, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		rec = &memRecord[T]{createdAt: time.Now()}
		s.data[key] = rec
	}
	rec.state = RecordFailed
	rec.err = failErr
	if ttl > 0 {
		rec.expiresAt = time.Now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore[T]) Get(ctx context.Context, key string) (IdempotencyRecord[T], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		return IdempotencyRecord[T]{}, false, nil
	}
	if rec.expired(time.Now()) {
		delete(s.data, key)
		return IdempotencyRecord[T]{}, false, nil
	}
	return rec.toRecord(key), true, nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore[T]) PurgeExpired(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.data {
		if rec.expired(now) {
			delete(s.data, k)
		}
	}
	return nil
}

// FunctionalStore adapts seven plain functions into a Store, grounded on the
// original implementation's FunctionalStore/store_from.
type FunctionalStore[T any] struct {
	ClaimFn      func(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error)
	ForceClaimFn func(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error)
	CompleteFn   func(ctx context.Context, key string, value T, ttl time.Duration) error
	FailFn       func(ctx context.Context, key string, err error, ttl time.Duration) error
	GetFn        func(ctx context.Context, key string) (IdempotencyRecord[T], bool, error)
	DeleteFn     func(ctx context.Context, key string) error
	PurgeFn      func(ctx context.Context, now time.Time) error
}

func (f FunctionalStore[T]) Claim(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error) {
	return f.ClaimFn(ctx, key, now, inputHash)
}

func (f FunctionalStore[T]) ForceClaim(ctx context.Context, key string, now time.Time, inputHash string) (ClaimOutcome[T], error) {
	return f.ForceClaimFn(ctx, key, now, inputHash)
}

func (f FunctionalStore[T]) Complete(ctx context.Context, key string, value T, ttl time.Duration) error {
	return f.CompleteFn(ctx, key, value, ttl)
}

func (f FunctionalStore[T]) Fail(ctx context.Context, key string, err error, ttl time.Duration) error {
	return f.FailFn(ctx, key, err, ttl)
}

func (f FunctionalStore[T]) Get(ctx context.Context, key string) (IdempotencyRecord[T], bool, error) {
	return f.GetFn(ctx, key)
}

func (f FunctionalStore[T]) Delete(ctx context.Context, key string) error {
	return f.DeleteFn(ctx, key)
}

func (f FunctionalStore[T]) PurgeExpired(ctx context.Context, now time.Time) error {
	return f.PurgeFn(ctx, now)
}

// StoreFrom builds a Store from a backing Store's method set, useful
// when a caller wants the FunctionalStore seam (e.g. to wrap with logging or
// metrics) without reimplementing the seven methods.
func StoreFrom[T any](backing Store[T]) FunctionalStore[T] {
	return FunctionalStore[T]{
		ClaimFn:      backing.Claim,
		ForceClaimFn: backing.ForceClaim,
		CompleteFn:   backing.Complete,
		FailFn:       backing.Fail,
		GetFn:        backing.Get,
		DeleteFn:     backing.Delete,
		PurgeFn:      backing.PurgeExpired,
	}
}
