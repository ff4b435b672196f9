package conversation

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error kinds recorded in StageError.Kind.
const (
	KindValidation    = "validation"
	KindUpstream      = "upstream"
	KindStateConflict = "state_conflict"
	KindConfiguration = "configuration"
	KindInternal      = "internal"
)

// ValidationError reports a malformed query, requester or decision. It is
// returned before any stage runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamServiceError reports a failed collaborator call.
type UpstreamServiceError struct {
	Service   string
	Op        string
	Transient bool
	Err       error
}

func (e *UpstreamServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *UpstreamServiceError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err for service/op and classifies it with
// IsTransient unless err already carries a classification.
func NewUpstreamError(service, op string, err error) *UpstreamServiceError {
	var up *UpstreamServiceError
	if errors.As(err, &up) {
		return &UpstreamServiceError{Service: service, Op: op, Transient: up.Transient, Err: err}
	}
	return &UpstreamServiceError{Service: service, Op: op, Transient: IsTransient(err), Err: err}
}

// StateConflictError reports a resume or cancel that does not match the
// persisted state, including the loser of a concurrent resume.
type StateConflictError struct {
	ConversationID string
	Reason         string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("conversation %s: %s", e.ConversationID, e.Reason)
}

// ConfigurationError reports malformed sensitivity or threshold configuration.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

// IsTransient reports whether err is worth retrying.
//
// gRPC Unavailable, DeadlineExceeded, Aborted and ResourceExhausted are
// transient, as are context deadlines and upstream errors flagged transient.
// Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var up *UpstreamServiceError
	if errors.As(err, &up) {
		return up.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Kind returns the taxonomy name of err for audit records.
func Kind(err error) string {
	var (
		ve *ValidationError
		ue *UpstreamServiceError
		se *StateConflictError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ue):
		return KindUpstream
	case errors.As(err, &se):
		return KindStateConflict
	case errors.As(err, &ce):
		return KindConfiguration
	default:
		return KindInternal
	}
}
