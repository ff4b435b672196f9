package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	ret := m.Called(ctx, options, workflow, args)
	run, _ := ret.Get(0).(client.WorkflowRun)
	return run, ret.Error(1)
}

func (m *mockClient) SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error {
	return m.Called(ctx, workflowID, runID, signalName, arg).Error(0)
}

func (m *mockClient) CancelWorkflow(ctx context.Context, workflowID string, runID string) error {
	return m.Called(ctx, workflowID, runID).Error(0)
}

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }

func newTestStarter(t *testing.T, c WorkflowClient) (*Starter, *logging.TestLogger) {
	t.Helper()
	tl := logging.NewTestLogger()
	s, err := NewStarter(c, StarterConfig{ApprovalTimeout: time.Hour}, tl.Logger)
	require.NoError(t, err)
	return s, tl
}

func TestNewStarter_Validation(t *testing.T) {
	_, err := NewStarter(nil, StarterConfig{}, logging.NewNop())
	assert.Error(t, err)

	_, err = NewStarter(&mockClient{}, StarterConfig{}, nil)
	assert.Error(t, err)

	_, err = NewStarter(&mockClient{}, StarterConfig{ApprovalTimeout: -time.Second}, logging.NewNop())
	var cfgErr *conversation.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	s, err := NewStarter(&mockClient{}, StarterConfig{}, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultTaskQueue, s.cfg.TaskQueue)
}

func TestStarter_StartsWorkflowOnSuspension(t *testing.T) {
	tests := []struct {
		name  string
		event orchestrator.EventType
		gate  Gate
	}{
		{"access", orchestrator.EventApprovalRequested, GateAccess},
		{"gap", orchestrator.EventGapApprovalRequested, GateGap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockClient{}
			wantID := WorkflowID("c1", tt.gate)
			c.On("ExecuteWorkflow", mock.Anything,
				client.StartWorkflowOptions{ID: wantID, TaskQueue: DefaultTaskQueue},
				ApprovalWorkflowName,
				[]interface{}{ApprovalInput{ConversationID: "c1", Gate: tt.gate, Timeout: time.Hour}},
			).Return(fakeRun{id: wantID}, nil).Once()

			s, tl := newTestStarter(t, c)
			s.Observe(context.Background(), orchestrator.Event{Type: tt.event, ConversationID: "c1"})

			c.AssertExpectations(t)
			tl.AssertLogged(t, zapcore.InfoLevel, "approval workflow started")
		})
	}
}

func TestStarter_StartFailureIsLogged(t *testing.T) {
	c := &mockClient{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	s, tl := newTestStarter(t, c)
	s.Observe(context.Background(), orchestrator.Event{Type: orchestrator.EventApprovalRequested, ConversationID: "c1"})

	tl.AssertLogged(t, zapcore.ErrorLevel, "starting approval workflow failed")
}

func TestStarter_CancelsOnExternalDecision(t *testing.T) {
	c := &mockClient{}
	c.On("CancelWorkflow", mock.Anything, "approval-c1-access", "").Return(nil).Once()

	s, _ := newTestStarter(t, c)
	s.Observe(context.Background(), orchestrator.Event{
		Type:           orchestrator.EventApprovalDecided,
		ConversationID: "c1",
		Decision:       conversation.DecisionApproved,
	})
	c.AssertExpectations(t)
}

func TestStarter_IgnoresWorkflowDecisions(t *testing.T) {
	c := &mockClient{}
	s, _ := newTestStarter(t, c)
	s.Observe(fromWorkflow(context.Background()), orchestrator.Event{
		Type:           orchestrator.EventApprovalDecided,
		ConversationID: "c1",
		Decision:       conversation.DecisionApproved,
	})
	c.AssertNotCalled(t, "CancelWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestStarter_CancelsBothGatesOnCancellation(t *testing.T) {
	c := &mockClient{}
	c.On("CancelWorkflow", mock.Anything, "approval-c1-access", "").Return(nil).Once()
	c.On("CancelWorkflow", mock.Anything, "approval-c1-gap", "").
		Return(serviceerror.NewNotFound("workflow not found")).Once()

	s, tl := newTestStarter(t, c)
	s.Observe(context.Background(), orchestrator.Event{
		Type:           orchestrator.EventFinished,
		ConversationID: "c1",
		Status:         conversation.StatusCancelled,
	})
	c.AssertExpectations(t)
	tl.AssertNotLogged(t, zapcore.WarnLevel, "cancelling approval workflow failed")
}

func TestStarter_Decide(t *testing.T) {
	t.Run("signals the waiting workflow", func(t *testing.T) {
		c := &mockClient{}
		c.On("SignalWorkflow", mock.Anything, "approval-c1-access", "", DecisionSignal,
			DecisionPayload{Decision: conversation.DecisionApproved, ApproverID: "mgr"}).Return(nil).Once()

		s, _ := newTestStarter(t, c)
		require.NoError(t, s.Decide(context.Background(), "c1", GateAccess, conversation.DecisionApproved, "mgr"))
		c.AssertExpectations(t)
	})

	t.Run("rejects decisions that do not fit the gate", func(t *testing.T) {
		s, _ := newTestStarter(t, &mockClient{})
		err := s.Decide(context.Background(), "c1", GateGap, conversation.DecisionApproved, "mgr")
		var ve *conversation.ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("missing workflow is a state conflict", func(t *testing.T) {
		c := &mockClient{}
		c.On("SignalWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(serviceerror.NewNotFound("workflow not found"))

		s, _ := newTestStarter(t, c)
		err := s.Decide(context.Background(), "c1", GateAccess, conversation.DecisionRejected, "mgr")
		var conflict *conversation.StateConflictError
		assert.ErrorAs(t, err, &conflict)
	})

	t.Run("other failures are upstream errors", func(t *testing.T) {
		c := &mockClient{}
		c.On("SignalWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("connection refused"))

		s, _ := newTestStarter(t, c)
		err := s.Decide(context.Background(), "c1", GateAccess, conversation.DecisionRejected, "mgr")
		var up *conversation.UpstreamServiceError
		assert.ErrorAs(t, err, &up)
	})
}
