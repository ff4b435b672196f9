package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/gaps"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/permission"
	"github.com/fyrsmithlabs/askd/internal/retry"
	"github.com/fyrsmithlabs/askd/internal/snapshot"
	"github.com/fyrsmithlabs/askd/internal/stages"
	"github.com/fyrsmithlabs/askd/internal/stages/stagestest"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

const testQuery = "how do I rotate the billing api key"

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harnessConfig struct {
	cfg   Config
	gaps  gaps.Config
	store snapshot.Store
}

type harness struct {
	mocks  *stagestest.Mocks
	store  snapshot.Store
	orch   *Orchestrator
	events *recorder
	logger *logging.TestLogger
	now    time.Time
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()
	if hc.cfg == (Config{}) {
		hc.cfg = DefaultConfig()
	}
	if hc.gaps == (gaps.Config{}) {
		hc.gaps = gaps.DefaultConfig()
	}
	if hc.store == nil {
		hc.store = snapshot.NewMemoryStore()
	}

	h := &harness{
		mocks:  stagestest.NewMocks(),
		store:  hc.store,
		events: &recorder{},
		logger: logging.NewTestLogger(),
		now:    testNow,
	}
	clock := func() time.Time { return h.now }

	evaluator, err := permission.NewEvaluator(permission.DefaultPolicy())
	require.NoError(t, err)
	detector, err := gaps.NewDetector(hc.gaps)
	require.NoError(t, err)

	stageCfg := stages.DefaultConfig()
	stageCfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	stageCfg.SynthesisTimeout = time.Second
	pipeline, err := stages.NewPipeline(stageCfg, stages.Deps{
		Understander: h.mocks.Understander,
		Embedder:     h.mocks.Embedder,
		Retriever:    h.mocks.Retriever,
		Generator:    h.mocks.Generator,
		History:      h.mocks.History,
		Permissions:  evaluator,
		Gaps:         detector,
		Now:          clock,
	}, h.logger.Logger)
	require.NoError(t, err)

	var seq atomic.Int64
	h.orch, err = New(hc.cfg, pipeline, hc.store, h.logger.Logger,
		WithObserver(h.events),
		WithClock(clock),
		WithIDGenerator(func() string { return fmt.Sprintf("conv-%d", seq.Add(1)) }),
	)
	require.NoError(t, err)
	return h
}

func safeCandidates() []conversation.Candidate {
	return []conversation.Candidate{
		{ID: "doc-1", Score: 0.92, Tier: conversation.TierPublic, Title: "Rotating API keys",
			Content: "Billing API keys are rotated from the admin console.", Source: "wiki"},
		{ID: "doc-2", Score: 0.81, Tier: conversation.TierInternal, Title: "Billing runbook",
			Content: "Rotate the billing key before the quarterly audit.", Source: "confluence"},
	}
}

func restrictedCandidate() conversation.Candidate {
	return conversation.Candidate{ID: "contract-7", Score: 0.77, Tier: conversation.TierRestricted,
		ThirdPartyRestricted: true, Title: "Vendor contract", Content: "Key escrow terms.", Source: "legal"}
}

var contractor = conversation.Requester{ID: "c-42", EmploymentType: conversation.EmploymentContractor}

func (h *harness) expectRetrieval(candidates []conversation.Candidate) {
	h.mocks.Understander.On("Understand", mock.Anything, testQuery).
		Return(conversation.Understanding{Intent: "how_to", Keywords: []string{"billing", "api", "key"}}, nil)
	h.mocks.Embedder.On("EmbedQuery", mock.Anything, testQuery).Return([]float32{0.1, 0.2, 0.3}, nil)
	h.mocks.Retriever.On("Search", mock.Anything, mock.Anything, mock.Anything, 50).Return(candidates, nil)
}

func (h *harness) expectAnswer() {
	h.mocks.Generator.On("Synthesize", mock.Anything, testQuery, mock.Anything).Return(conversation.Answer{
		Text:      "Rotate the key from the admin console [1].",
		Citations: []conversation.Citation{{Index: 1, ID: "doc-1", Title: "Rotating API keys"}},
	}, nil)
}

func (h *harness) expectHistory(stats conversation.TopicStats) {
	h.mocks.History.On("Append", mock.Anything, mock.Anything).Return(nil)
	h.mocks.History.On("QueryStats", mock.Anything, mock.Anything).Return(stats, nil)
}

var healthyTopic = conversation.TopicStats{RequestCount: 3, AvgTopScore: 0.9, UniqueRequesters: 2}

func (h *harness) load(t *testing.T, id string) *conversation.Context {
	t.Helper()
	c, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	var ce *conversation.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "orchestrator.retention", ce.Key)

	_, err = New(DefaultConfig(), nil, snapshot.NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestStart_NoSensitiveResultsCompletes(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.expectRetrieval(safeCandidates())
	h.expectAnswer()
	h.expectHistory(healthyTopic)

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.Empty(t, res.PendingReason)
	c := res.Context
	assert.False(t, c.Approval.Required)
	assert.Equal(t, conversation.Stages(), c.ExecutionPath)
	require.NotNil(t, c.Answer)
	require.NotEmpty(t, c.Answer.Citations)
	filtered := map[string]bool{}
	for _, r := range c.FilteredResults {
		filtered[r.ID] = true
	}
	for _, id := range c.Answer.CitedIDs() {
		assert.True(t, filtered[id], "citation %s is not a filtered result", id)
	}
	assert.Nil(t, c.RawResults)
	assert.Nil(t, c.Embedding)

	stored := h.load(t, res.ConversationID)
	assert.Equal(t, conversation.StatusCompleted, stored.Status)
	assert.Len(t, stored.RawResults, 2)
	assert.NoError(t, stored.Check())

	assert.Len(t, h.events.ofType(EventStageEntered), len(conversation.Stages()))
	assert.Equal(t, EventFinished, h.events.last().Type)
	h.logger.AssertLogged(t, zapcore.InfoLevel, "conversation finished")
	h.mocks.AssertExpectations(t)
}

func TestStart_ValidationError(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	_, err := h.orch.Start(context.Background(), "   ", conversation.Requester{ID: "u1"})
	var ve *conversation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "query", ve.Field)

	_, err = h.orch.Start(context.Background(), testQuery, conversation.Requester{})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "requester.id", ve.Field)

	h.mocks.Understander.AssertNotCalled(t, "Understand", mock.Anything, mock.Anything)
}

func TestStart_SensitiveResultSuspends(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.expectRetrieval(append(safeCandidates(), restrictedCandidate()))

	res, err := h.orch.Start(context.Background(), testQuery, contractor)
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusSuspendedForApproval, res.Status)
	assert.Contains(t, res.PendingReason, "Vendor contract")
	assert.True(t, res.Context.Approval.Required)
	assert.Empty(t, res.Context.SensitiveResults)
	assert.Equal(t, conversation.StageFilter, res.Context.ExecutionPath[len(res.Context.ExecutionPath)-1])

	stored := h.load(t, res.ConversationID)
	require.Len(t, stored.SensitiveResults, 1)
	assert.Equal(t, "contract-7", stored.SensitiveResults[0].ID)
	assert.Equal(t, conversation.ApprovalPending, stored.Approval.Status)
	assert.Equal(t, conversation.StageFilter, stored.LastCompletedStage)

	requested := h.events.ofType(EventApprovalRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, []string{"contract-7"}, requested[0].FlaggedIDs)
	h.mocks.Generator.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func suspendedConversation(t *testing.T, h *harness) string {
	t.Helper()
	h.expectRetrieval(append(safeCandidates(), restrictedCandidate()))
	res, err := h.orch.Start(context.Background(), testQuery, contractor)
	require.NoError(t, err)
	require.Equal(t, conversation.StatusSuspendedForApproval, res.Status)
	return res.ConversationID
}

func TestResume_ApprovedCompletes(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)
	h.expectAnswer()
	h.expectHistory(healthyTopic)

	res, err := h.orch.Resume(context.Background(), id, conversation.DecisionApproved, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.Equal(t, conversation.Stages(), res.Context.ExecutionPath)
	assert.Equal(t, conversation.ApprovalApproved, res.Context.Approval.Status)
	assert.Equal(t, "mgr-1", res.Context.Approval.ApproverID)
	assert.Len(t, res.Context.SensitiveResults, 1)
	h.mocks.Generator.AssertNumberOfCalls(t, "Synthesize", 1)

	decided := h.events.ofType(EventApprovalDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, conversation.DecisionApproved, decided[0].Decision)
	assert.Equal(t, "mgr-1", decided[0].ApproverID)
}

func TestResume_RejectedStops(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)

	res, err := h.orch.Resume(context.Background(), id, conversation.DecisionRejected, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusRejected, res.Status)
	assert.Equal(t, conversation.RejectionNotice, res.Context.Notice)
	assert.Nil(t, res.Context.Answer)
	assert.Nil(t, res.Context.RankedResults)
	assert.Nil(t, res.Context.FilteredResults)
	assert.Nil(t, res.Context.SensitiveResults)
	h.mocks.Generator.AssertNumberOfCalls(t, "Synthesize", 0)
	h.mocks.History.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)

	stored := h.load(t, id)
	assert.Equal(t, conversation.StatusRejected, stored.Status)
	assert.Len(t, stored.FilteredResults, 2)
}

func TestResume_RejectedExposesFilteredWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExposeFilteredOnReject = true
	h := newHarness(t, harnessConfig{cfg: cfg})
	id := suspendedConversation(t, h)

	res, err := h.orch.Resume(context.Background(), id, conversation.DecisionRejected, "mgr-1")
	require.NoError(t, err)
	assert.Len(t, res.Context.FilteredResults, 2)
	assert.Nil(t, res.Context.SensitiveResults)
}

func TestResume_ConcurrentDecisionsOneWins(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)
	h.expectAnswer()
	h.expectHistory(healthyTopic)

	const callers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Resume(context.Background(), id, conversation.DecisionApproved, "mgr-1")
			var se *conversation.StateConflictError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &se):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	h.mocks.Generator.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestResume_Conflicts(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.expectRetrieval(safeCandidates())
	h.expectAnswer()
	h.expectHistory(healthyTopic)
	done, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
	}{
		{name: "unknown conversation", id: "conv-missing"},
		{name: "completed conversation", id: done.ConversationID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Resume(context.Background(), tt.id, conversation.DecisionApproved, "mgr-1")
			var se *conversation.StateConflictError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.id, se.ConversationID)
		})
	}
}

func TestResume_InvalidInput(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)

	tests := []struct {
		name     string
		decision conversation.Decision
		approver string
		field    string
	}{
		{name: "unknown decision", decision: "maybe", approver: "mgr-1", field: "decision"},
		{name: "missing approver", decision: conversation.DecisionApproved, approver: " ", field: "approver_id"},
		{name: "acknowledge on access gate", decision: conversation.DecisionAcknowledge, approver: "mgr-1", field: "decision"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Resume(context.Background(), id, tt.decision, tt.approver)
			var ve *conversation.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	stored := h.load(t, id)
	assert.Equal(t, conversation.StatusSuspendedForApproval, stored.Status)
	assert.Equal(t, conversation.ApprovalPending, stored.Approval.Status)
}

func TestStart_GenerationFailureFallsBack(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.expectRetrieval(safeCandidates())
	h.expectHistory(healthyTopic)
	h.mocks.Generator.On("Synthesize", mock.Anything, testQuery, mock.Anything).
		Return(conversation.Answer{}, errors.New("model overloaded"))

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	require.NotNil(t, res.Context.Answer)
	assert.True(t, res.Context.Answer.Fallback)
	assert.Contains(t, res.Context.Answer.Text, "Based on 'Rotating API keys'")
	require.Len(t, res.Context.Errors, 1)
	assert.Equal(t, conversation.StageSynthesize, res.Context.Errors[0].Stage)
	assert.True(t, res.Context.Errors[0].Recoverable)
	h.mocks.Generator.AssertNumberOfCalls(t, "Synthesize", 3)
}

func TestStart_UpstreamFailureFails(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.mocks.Understander.On("Understand", mock.Anything, testQuery).
		Return(conversation.Understanding{}, status.Error(codes.Unavailable, "connection refused"))

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusFailed, res.Status)
	require.Len(t, res.Context.Errors, 1)
	assert.Equal(t, conversation.StageUnderstand, res.Context.Errors[0].Stage)
	assert.Equal(t, conversation.KindUpstream, res.Context.Errors[0].Kind)
	h.mocks.Embedder.AssertNotCalled(t, "EmbedQuery", mock.Anything, mock.Anything)
	assert.Equal(t, conversation.StatusFailed, h.load(t, res.ConversationID).Status)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "conversation finished")
}

func TestStart_NoResults(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.expectRetrieval([]conversation.Candidate{})
	h.expectHistory(healthyTopic)

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.Equal(t, stages.NoResultsAnswer, res.Context.Answer.Text)
	h.mocks.Generator.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_OutlivesCaller(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mocks.Understander.On("Understand", mock.Anything, testQuery).
		Run(func(mock.Arguments) { cancel() }).
		Return(conversation.Understanding{Intent: "how_to", Keywords: []string{"billing"}}, nil)
	h.mocks.Embedder.On("EmbedQuery", mock.Anything, testQuery).Return([]float32{0.1, 0.2, 0.3}, nil)
	h.mocks.Retriever.On("Search", mock.Anything, mock.Anything, mock.Anything, 50).Return(safeCandidates(), nil)
	h.expectAnswer()
	h.expectHistory(healthyTopic)

	res, err := h.orch.Start(ctx, testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.Empty(t, res.Context.Errors)
}

func TestResume_ApprovedSurvivesCallerHangup(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mocks.Generator.On("Synthesize", mock.Anything, testQuery, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(conversation.Answer{Text: "Rotate the key from the admin console."}, nil)
	h.expectHistory(healthyTopic)

	res, err := h.orch.Resume(ctx, id, conversation.DecisionApproved, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	require.NotNil(t, res.Context.Answer)
	stored := h.load(t, id)
	assert.Equal(t, conversation.StatusCompleted, stored.Status)
	assert.Equal(t, conversation.ApprovalApproved, stored.Approval.Status)
}

func TestStart_RunTimeoutFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunTimeout = 20 * time.Millisecond
	h := newHarness(t, harnessConfig{cfg: cfg})
	h.mocks.Understander.On("Understand", mock.Anything, testQuery).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(conversation.Understanding{}, context.DeadlineExceeded)

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusFailed, res.Status)
	require.NotEmpty(t, res.Context.Errors)
	assert.Equal(t, conversation.StatusFailed, h.load(t, res.ConversationID).Status)
}

func TestCancel_InFlight(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	entered := make(chan struct{})
	h.mocks.Understander.On("Understand", mock.Anything, testQuery).
		Run(func(args mock.Arguments) {
			close(entered)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(conversation.Understanding{}, context.Canceled)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
		done <- outcome{res, err}
	}()

	<-entered
	require.NoError(t, h.orch.Cancel(context.Background(), "conv-1"))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, conversation.StatusCancelled, out.res.Status)
	_, err := h.store.Load(context.Background(), "conv-1")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	assert.Equal(t, conversation.StatusCancelled, h.events.last().Status)
}

func TestCancel_SuspendedIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)

	require.NoError(t, h.orch.Cancel(context.Background(), id))
	require.NoError(t, h.orch.Cancel(context.Background(), id))
	require.NoError(t, h.orch.Cancel(context.Background(), "conv-missing"))

	_, err := h.orch.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, h.events.ofType(EventFinished), 1)

	_, err = h.orch.Resume(context.Background(), id, conversation.DecisionApproved, "mgr-1")
	var se *conversation.StateConflictError
	assert.True(t, errors.As(err, &se))
}

func TestCancel_TerminalUntouched(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)
	_, err := h.orch.Resume(context.Background(), id, conversation.DecisionRejected, "mgr-1")
	require.NoError(t, err)

	require.NoError(t, h.orch.Cancel(context.Background(), id))
	assert.Equal(t, conversation.StatusRejected, h.load(t, id).Status)
}

func gapApprovalConfig() gaps.Config {
	cfg := gaps.DefaultConfig()
	cfg.RequireApproval = true
	return cfg
}

var failingTopic = conversation.TopicStats{RequestCount: 12, AvgTopScore: 0.2, UniqueRequesters: 3}

func TestGapApproval_SuspendsAndAcknowledges(t *testing.T) {
	h := newHarness(t, harnessConfig{gaps: gapApprovalConfig()})
	h.expectRetrieval(safeCandidates())
	h.expectAnswer()
	h.expectHistory(failingTopic)
	h.mocks.History.On("PublishGap", mock.Anything, mock.Anything).Return(nil).Once()

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	require.Equal(t, conversation.StatusSuspendedForGapApproval, res.Status)
	assert.Equal(t, gapPendingReason, res.PendingReason)
	assert.True(t, res.Context.Gap.Detected)
	assert.Equal(t, conversation.GapApprovalPending, res.Context.Gap.GapApprovalStatus)
	h.mocks.History.AssertNotCalled(t, "PublishGap", mock.Anything, mock.Anything)
	require.Len(t, h.events.ofType(EventGapApprovalRequested), 1)

	_, err = h.orch.Resume(context.Background(), res.ConversationID, conversation.DecisionApproved, "lead-1")
	var ve *conversation.ValidationError
	require.True(t, errors.As(err, &ve))

	res, err = h.orch.Resume(context.Background(), res.ConversationID, conversation.DecisionAcknowledge, "lead-1")
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.True(t, res.Context.Gap.Published)
	assert.Equal(t, "lead-1", res.Context.Gap.AcknowledgedBy)
	assert.Equal(t, conversation.GapApprovalAcknowledged, res.Context.Gap.GapApprovalStatus)
	require.Len(t, h.events.ofType(EventGapPublished), 1)
	h.mocks.History.AssertNumberOfCalls(t, "PublishGap", 1)
}

func TestGapApproval_PublishFailureIsRecorded(t *testing.T) {
	h := newHarness(t, harnessConfig{gaps: gapApprovalConfig()})
	h.expectRetrieval(safeCandidates())
	h.expectAnswer()
	h.expectHistory(failingTopic)
	h.mocks.History.On("PublishGap", mock.Anything, mock.Anything).Return(errors.New("collection missing"))

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)
	res, err = h.orch.Resume(context.Background(), res.ConversationID, conversation.DecisionAcknowledge, "lead-1")
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.False(t, res.Context.Gap.Published)
	require.NotEmpty(t, res.Context.Errors)
	last := res.Context.Errors[len(res.Context.Errors)-1]
	assert.Equal(t, conversation.StageGapDetect, last.Stage)
	assert.True(t, last.Recoverable)
}

func TestGap_PublishedWithoutApproval(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.expectRetrieval(safeCandidates())
	h.expectAnswer()
	h.expectHistory(failingTopic)
	h.mocks.History.On("PublishGap", mock.Anything, mock.Anything).Return(nil)

	res, err := h.orch.Start(context.Background(), testQuery, conversation.Requester{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.True(t, res.Context.Gap.Published)
	published := h.events.ofType(EventGapPublished)
	require.Len(t, published, 1)
	require.NotNil(t, published[0].Gap)
	assert.Equal(t, conversation.PriorityMedium, published[0].Gap.Priority)
	assert.Equal(t, res.Context.Gap.Suggestion.TopicKey, published[0].Gap.TopicKey)

	for _, e := range h.events.events {
		if e.Gap == nil {
			continue
		}
		assert.Empty(t, e.Gap.Topic)
		assert.Empty(t, e.Gap.QueryPattern)
		assert.Equal(t, conversation.SuggestedContent{}, e.Gap.SuggestedContent)
		assert.Nil(t, e.Gap.Embedding)
	}
	require.NotEmpty(t, res.Context.Gap.Suggestion.QueryPattern)
}

func TestList_ReturnsViews(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)

	got, err := h.orch.List(context.Background(), conversation.StatusSuspendedForApproval)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Nil(t, got[0].SensitiveResults)
	assert.Nil(t, got[0].RawResults)
}

func TestPurgeExpired(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)

	n, err := h.orch.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.now = testNow.Add(8 * 24 * time.Hour)
	n, err = h.orch.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.orch.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeLoop_StopsWithContext(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	suspendedConversation(t, h)
	h.now = testNow.Add(8 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.PurgeLoop(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool {
		list, err := h.store.List(context.Background(), conversation.StatusSuspendedForApproval)
		return err == nil && len(list) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestResume_AcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")

	first, err := snapshot.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	h1 := newHarness(t, harnessConfig{store: first})
	id := suspendedConversation(t, h1)
	require.NoError(t, first.Close())

	second, err := snapshot.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	h2 := newHarness(t, harnessConfig{store: second})
	h2.expectAnswer()
	h2.expectHistory(healthyTopic)

	res, err := h2.orch.Resume(context.Background(), id, conversation.DecisionApproved, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, conversation.StatusCompleted, res.Status)
	assert.Equal(t, conversation.Stages(), res.Context.ExecutionPath)
	h2.mocks.Understander.AssertNotCalled(t, "Understand", mock.Anything, mock.Anything)
	h2.mocks.Generator.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestTelemetry_SuspendAndResume(t *testing.T) {
	tel := telemetry.NewTestTelemetry(t)
	h := newHarness(t, harnessConfig{})
	id := suspendedConversation(t, h)
	h.expectAnswer()
	h.expectHistory(healthyTopic)

	_, err := h.orch.Resume(context.Background(), id, conversation.DecisionApproved, "mgr-1")
	require.NoError(t, err)
	_, err = h.orch.Resume(context.Background(), id, conversation.DecisionApproved, "mgr-2")
	require.Error(t, err)

	names := tel.SpanNames()
	assert.Contains(t, names, "orchestrator.start")
	assert.Contains(t, names, "orchestrator.resume")
	assert.Contains(t, names, "stage."+string(conversation.StageFilter))

	assert.Equal(t, int64(1), tel.Counter(t, "askd.conversations.started"))
	assert.Equal(t, int64(1), tel.Counter(t, "askd.conversations.suspended"))
	assert.Equal(t, int64(1), tel.Counter(t, "askd.conversations.resumed"))
	assert.Equal(t, int64(1), tel.Counter(t, "askd.conversations.conflicts"))
	assert.Equal(t, int64(1), tel.Counter(t, "askd.conversations.finished"))
}
