// Package mcp exposes the conversation lifecycle as MCP tools.
//
// The server registers query_start, query_resume, query_cancel, query_get
// and query_pending on the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp).
// It runs on stdio for local agents, and HTTPHandler serves the streamable
// HTTP transport next to the REST API.
//
// Tool failures carry the error kind as a prefix, for example
// "state_conflict: conversation c1: conversation is completed, not suspended".
package mcp
