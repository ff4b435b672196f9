// Package conversation defines the record that carries a single query through
// the askd pipeline.
//
// A Context is created once per query by the orchestrator and mutated only by
// stage executors while the orchestrator holds the conversation. Pipeline
// products (understanding, embedding, candidate partitions, ranked results,
// answer) are populated by exactly one stage each; the audit fields
// (ExecutionPath, Errors) are append-only.
//
// # Lifecycle
//
//	RUNNING(understand) -> ... -> RUNNING(filter)
//	    -> SUSPENDED_FOR_APPROVAL -> RUNNING(rerank) | REJECTED
//	    -> RUNNING(rerank) -> ... -> RUNNING(gapDetect)
//	    -> COMPLETED | SUSPENDED_FOR_GAP_APPROVAL -> COMPLETED
//
// CANCELLED and FAILED may be reached from any non-terminal state.
//
// # Errors
//
// The package also owns the error taxonomy shared by every layer:
// ValidationError, UpstreamServiceError, StateConflictError and
// ConfigurationError. Callers match them with errors.As.
package conversation
