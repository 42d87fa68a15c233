// Package health implements liveness, readiness and version probes.
//
// Components register checks with the Checker; readiness runs them
// concurrently, each under its own timeout:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("idempotency_store", func(ctx context.Context) error {
//		_, err := store.Get(ctx, "health", "probe")
//		return err
//	})
//	router.Get("/healthz", checker.LivenessHandler())
//	router.Get("/readyz", checker.ReadinessHandler())
//
// Liveness never runs component checks, so a slow store cannot make an
// orchestrator restart the process.
package health
