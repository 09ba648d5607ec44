// Package ledger provides type-safe Go definitions and Redis schema patterns
// for the chartrecon run ledger. The ledger is the only state shared between
// reconciliation workers: report rows and coverage entries are appended to it,
// processed-client membership is recorded in it, and operator-facing progress
// counters live in it.
//
// All Redis keys and channels are namespaced by run name so that multiple
// reconciliation runs can safely coexist on a single Redis server, and so an
// interrupted run can be resumed under the same name without re-emitting rows
// for clients that were already completed.
package ledger
