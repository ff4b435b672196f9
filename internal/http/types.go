package http

import (
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// StartRequest is the request body for POST /api/v1/conversations.
type StartRequest struct {
	Query     string                 `json:"query"`
	Requester conversation.Requester `json:"requester"`
}

// ResumeRequest is the request body for POST /api/v1/conversations/:id/resume.
type ResumeRequest struct {
	Decision   string `json:"decision"`
	ApproverID string `json:"approver_id"`
}

// ListResponse is the response body for GET /api/v1/conversations.
type ListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// ConversationSummary is one entry of a listing.
type ConversationSummary struct {
	ConversationID string                      `json:"conversation_id"`
	Status         conversation.Status         `json:"status"`
	Stage          conversation.Stage          `json:"stage"`
	RequesterID    string                      `json:"requester_id"`
	Approval       conversation.ApprovalStatus `json:"approval_status"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
}
