package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// Conversations is the conversation lifecycle the tools call.
// *orchestrator.Orchestrator implements it.
type Conversations interface {
	Start(ctx context.Context, query string, requester conversation.Requester) (*orchestrator.Result, error)
	Resume(ctx context.Context, id string, decision conversation.Decision, approverID string) (*orchestrator.Result, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*conversation.Context, error)
	List(ctx context.Context, status conversation.Status) ([]*conversation.Context, error)
}

// Server is an MCP server over the conversation lifecycle.
type Server struct {
	mcp           *mcp.Server
	conversations Conversations
	metrics       *toolMetrics
	logger        *logging.Logger
}

// Config names the server to MCP clients.
type Config struct {
	Name    string
	Version string
}

// DefaultConfig identifies the server as askd 1.0.0.
func DefaultConfig() *Config {
	return &Config{Name: "askd", Version: "1.0.0"}
}

const instructions = `Use query_start to put a question to the company knowledge base on behalf
of a requester. A suspended conversation waits for an approver: pass its
id to query_resume with a decision. query_get and query_pending inspect
progress; query_cancel abandons a conversation.`

// NewServer registers the conversation tools on a new MCP server.
func NewServer(cfg *Config, conversations Conversations, logger *logging.Logger) (*Server, error) {
	switch {
	case conversations == nil:
		return nil, errors.New("conversations is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger = logger.Named("mcp")

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version},
			&mcp.ServerOptions{Instructions: instructions}),
		conversations: conversations,
		metrics:       newToolMetrics(nil, logger),
		logger:        logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "serving mcp", zap.String("transport", "stdio"))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp stdio session: %w", err)
	}
	return nil
}

// HTTPHandler serves MCP over the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}
