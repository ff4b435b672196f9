package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// activityError converts a resume failure into the error Temporal sees.
//
// State conflicts and validation failures will not succeed on retry and
// become non-retryable application errors. Everything else is wrapped with
// the operation name and left to the retry policy.
func activityError(op string, err error) error {
	var (
		conflict *conversation.StateConflictError
		invalid  *conversation.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), errTypeConflict, err)
	case errors.As(err, &invalid):
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), errTypeValidation, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
