// Package allocengine selects question sets for exam bundles from a shared
// catalog, minimizing and capping reuse of questions already assigned to
// other bundles.
//
// It exposes a single Service interface that runs every selection attempt
// (automatic or manual) under one process-wide allocation guard, so that
// concurrent bundle creations can never observe the same set of unused
// questions and both claim it. Repository implementations (memory, Postgres)
// are provided under subpackages.
//
// # Selection policy
//
// An automatic selection of N items takes fresh questions first (questions
// not referenced by any active bundle), shuffled randomly. If fewer than N
// fresh questions exist, the shortfall is covered by the least-used reused
// questions, but never more than the overlap cap (default 10% of N, rounded
// up) and never below the freshness quota (default 80% of N, rounded up).
// A request that cannot satisfy both bounds fails outright; partial results
// are never returned.
//
// # Critical section
//
// The freshness guarantee is exact only when the new bundle is persisted
// before the guard is released. CreateBundle and RegenerateBundle do this
// internally; callers using Allocate directly get a best-effort guarantee
// and should prefer the bundle operations.
package allocengine
