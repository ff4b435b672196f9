// Package orchestrator drives conversations through the stage graph.
//
// # Overview
//
// The Orchestrator runs the stages in order
//
//	understand → embed → search → filter → rerank → synthesize → log → gapDetect
//
// and halts at two conditional suspension points:
//
//   - after filter, when any result requires approval
//     (SUSPENDED_FOR_APPROVAL)
//   - after gapDetect, when a knowledge gap was found and publishing it
//     requires sign-off (SUSPENDED_FOR_GAP_APPROVAL)
//
// A suspended conversation does not hold a goroutine. Start and Resume
// return as soon as the conversation is suspended or finished; the
// snapshot store holds the continuation until a decision arrives through
// Resume.
//
// # Single writer
//
// Each conversation id has at most one operation in flight per process,
// tracked in an in-memory registry. Across processes the snapshot store's
// version compare-and-swap decides which resume wins. Losers receive a
// conversation.StateConflictError.
//
// # Cancellation
//
// Cancel interrupts an in-flight conversation between stages, or discards
// a suspended one. It is idempotent.
//
// # Events
//
// Observers registered with WithObserver receive every transition. They
// are called synchronously and must not block.
package orchestrator
