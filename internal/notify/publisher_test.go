package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "", nil)
	require.Error(t, err)

	nc := connect(t)
	_, err = NewPublisher(nc, "bad.>", nil)
	require.Error(t, err)

	p, err := NewPublisher(nc, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "askd.conversations.c1", p.ConversationSubject("c1"))
}

func TestPublisher_Subjects(t *testing.T) {
	p, err := NewPublisher(connect(t), "askd", nil)
	require.NoError(t, err)

	tests := []struct {
		typ  orchestrator.EventType
		want []string
	}{
		{orchestrator.EventStageEntered, []string{"askd.conversations.c1.stage_entered"}},
		{orchestrator.EventApprovalRequested, []string{"askd.conversations.c1.approval_requested", "askd.approvals.c1.requested"}},
		{orchestrator.EventGapApprovalRequested, []string{"askd.conversations.c1.gap_approval_requested", "askd.approvals.c1.gap_requested"}},
		{orchestrator.EventApprovalDecided, []string{"askd.conversations.c1.approval_decided", "askd.approvals.c1.decided"}},
		{orchestrator.EventGapPublished, []string{"askd.conversations.c1.gap_published", "askd.gaps.detected"}},
		{orchestrator.EventFinished, []string{"askd.conversations.c1.finished"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Subjects(orchestrator.Event{Type: tt.typ, ConversationID: "c1"}))
		})
	}

	assert.Equal(t, []string{"askd.conversations.a_b_c.finished"},
		p.Subjects(orchestrator.Event{Type: orchestrator.EventFinished, ConversationID: "a.b*c"}))
}

func TestPublisher_ObservePublishesApprovalRequest(t *testing.T) {
	nc := connect(t)
	p, err := NewPublisher(nc, "askd", nil)
	require.NoError(t, err)

	sub, err := nc.SubscribeSync("askd.approvals.*.requested")
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	p.Observe(context.Background(), orchestrator.Event{
		Type:           orchestrator.EventApprovalRequested,
		ConversationID: "c1",
		Status:         conversation.StatusSuspendedForApproval,
		Reason:         "1 result requires approval: Payroll runbook",
		FlaggedIDs:     []string{"doc-9"},
	})

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "askd.approvals.c1.requested", msg.Subject)

	var got orchestrator.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, []string{"doc-9"}, got.FlaggedIDs)
	assert.Equal(t, conversation.StatusSuspendedForApproval, got.Status)
}

func TestPublisher_Watch(t *testing.T) {
	nc := connect(t)
	p, err := NewPublisher(nc, "askd", nil)
	require.NoError(t, err)

	w, err := p.Watch("c1")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, nc.Flush())

	ctx := context.Background()
	p.Observe(ctx, orchestrator.Event{Type: orchestrator.EventStageEntered, ConversationID: "other", Stage: conversation.StageEmbed})
	p.Observe(ctx, orchestrator.Event{Type: orchestrator.EventStageEntered, ConversationID: "c1", Stage: conversation.StageUnderstand})
	p.Observe(ctx, orchestrator.Event{Type: orchestrator.EventFinished, ConversationID: "c1", Status: conversation.StatusCompleted})

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	first, err := w.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.EventStageEntered, first.Type)
	assert.Equal(t, conversation.StageUnderstand, first.Stage)

	second, err := w.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.EventFinished, second.Type)
	assert.Equal(t, conversation.StatusCompleted, second.Status)

	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err = w.Next(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisher_PublishFailureIsLogged(t *testing.T) {
	nc := connect(t)
	tl := logging.NewTestLogger()
	p, err := NewPublisher(nc, "askd", tl.Logger)
	require.NoError(t, err)

	nc.Close()
	p.Observe(context.Background(), orchestrator.Event{Type: orchestrator.EventFinished, ConversationID: "c1"})

	tl.AssertLogged(t, zapcore.WarnLevel, "publishing event failed")
}
