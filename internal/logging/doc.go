// Package logging is askd's structured logger.
//
// Logger wraps zap and takes a context on every call. Correlation data
// carried by the context is appended to each entry: the OpenTelemetry
// trace and span, the conversation, the requester, the HTTP request and
// the pipeline stage currently executing.
//
//	ctx = logging.WithConversationID(ctx, c.ID)
//	ctx = logging.WithStage(ctx, "filter")
//	logger.Info(ctx, "results filtered", zap.Int("flagged", n))
//
// Entries go to a console core (JSON or console encoding, stdout or stderr)
// and optionally to the OpenTelemetry log bridge. The console encoder
// redacts credential-like keys and values, and the default configuration
// also redacts document content so retrieved text never reaches a log
// sink. Errors bypass sampling.
package logging
