// Package stages implements the eight pipeline stages that move a
// conversation from query to answer.
//
// Each stage is a Handler that reads the products of earlier stages from
// the conversation.Context, calls at most one collaborator, and writes its
// own product back. Handlers never change Status; the orchestrator owns
// the state machine.
//
// Understand, embed and search retry transient collaborator failures with
// the configured retry.Policy. Synthesize makes a bounded number of
// attempts and falls back to an extractive answer. Log and gapDetect
// record their failures on the context and never fail the conversation.
package stages
