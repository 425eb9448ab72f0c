// Package lattice provides four small execution engines — a dependency
// graph executor, a saga runner, a tiered cache, and an idempotency
// executor — built on a shared Result/LazyAction foundation.
//
// # Graph Executor
//
// Declare nodes with their dependency signature and constructor, compile
// them into a Plan, and run the Plan against a RunContext:
//
//	config := lattice.Node0("config", func(ctx *lattice.ConstructCtx) (*Config, error) {
//	    return &Config{Port: 8080}, nil
//	})
//
//	server := lattice.Node1(
//	    "server", lattice.Concrete(config),
//	    func(ctx *lattice.ConstructCtx, cfg *Config) (*Server, error) {
//	        return NewServer(cfg.Port), nil
//	    },
//	)
//
//	plan, err := lattice.Graph(server)
//	if err != nil {
//	    // err is a *CycleError naming the nodes on the cycle; plan is nil
//	}
//	srv, err := lattice.Execute[*Server](context.Background(), plan.Run())
//
// Dependencies are either Concrete (another Node, resolved once per run and
// shared) or ViaProtocol (bound at run time with InjectAs, for
// swapping implementations — a mock store in tests, Stripe vs. a sandbox
// gateway in production).
//
// # Saga Runner
//
// Chain compensated steps; a failure anywhere rolls every prior step back,
// in reverse order, attempting every compensator even if one fails:
//
//	book := lattice.Step(bookFlight, cancelFlight)
//	trip := lattice.Then(lattice.NewChain(book), func(f Flight) lattice.SagaStep[Hotel] {
//	    return lattice.Step(bookHotel(f), cancelHotel)
//	})
//	result, err := lattice.RunChain[Hotel](ctx, trip)
//
// # Tiered Cache
//
// Stack tiers shallowest to deepest; a hit promotes the value into every
// shallower tier before returning:
//
//	cache := lattice.NewCache(keyFn, fetchFromDB).
//	    Tier(lattice.NewLocalTier[User](1024)).
//	    Build()
//	result, err := cache.Get(ctx, userID)
//
// # Idempotency Executor
//
// Guarantee a keyed operation runs to success at most once, with every
// concurrent or retried caller observing the same value:
//
//	exec := lattice.Idempotent(chargeCard).
//	    Key(func(r ChargeRequest) string { return r.IdempotencyKey }).
//	    WithStore(lattice.NewMemoryStore[Receipt]()).
//	    WithPolicy(lattice.NewPolicy().WithTTL(time.Hour)).
//	    Build()
//	result, err := exec.Run(ctx, req)
//
// # Extensions
//
// Extensions observe or wrap node construction across a whole run:
// logging, metrics, tracing. Embed BaseExtension and override only the
// hooks needed; see the extensions subpackage for slog-based logging and
// dependency-graph-on-error diagnostics.
package lattice
