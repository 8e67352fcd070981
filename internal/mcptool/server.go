// Package mcptool exposes the book spirit to MCP clients over stdio.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/identity"
)

// Tool names.
const (
	ToolAsk     = "ask_book_spirit"
	ToolContext = "reading_context"
)

// Engine is the part of the dialog engine the tools use.
type Engine interface {
	HandleMessage(ctx context.Context, req dialog.Request) dialog.Reply
	Context(ctx context.Context, userID string) domain.UserContext
}

// ToolResult is the text outcome of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// Server wraps an MCP server with the book spirit tools registered.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server named after version.
func NewServer(engine Engine, version string) *Server {
	s := &Server{engine: engine}
	s.mcpServer = server.NewMCPServer(
		"bookspirit",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until the client disconnects.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes one raw JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// CallTool runs a tool directly by name.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case ToolAsk:
		return s.handleAsk(ctx, args)
	case ToolContext:
		return s.handleContext(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(ToolAsk,
		mcp.WithDescription("Send a message to the reading companion on behalf of a reader and return its reply, intent and source."),
		mcp.WithString("user_id",
			mcp.Description("Reader ID"),
			mcp.Required(),
		),
		mcp.WithString("message",
			mcp.Description("What the reader says"),
			mcp.Required(),
		),
		mcp.WithString("book",
			mcp.Description("Book being read, overrides stored progress"),
		),
		mcp.WithString("chapter",
			mcp.Description("Current chapter, overrides stored progress"),
		),
	), s.wrap(s.handleAsk))

	s.mcpServer.AddTool(mcp.NewTool(ToolContext,
		mcp.WithDescription("Show the reading context snapshot the companion would use for a reader."),
		mcp.WithString("user_id",
			mcp.Description("Reader ID"),
			mcp.Required(),
		),
	), s.wrap(s.handleContext))
}

func (s *Server) wrap(h func(context.Context, map[string]any) (*ToolResult, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: r.Content},
		},
		IsError: r.IsError,
	}
}

func (s *Server) handleAsk(ctx context.Context, args map[string]any) (*ToolResult, error) {
	userID, errResult := userIDArg(args)
	if errResult != nil {
		return errResult, nil
	}
	message := strings.TrimSpace(stringArg(args, "message"))
	if message == "" {
		return &ToolResult{Content: "message is required", IsError: true}, nil
	}

	reply := s.engine.HandleMessage(ctx, dialog.Request{
		UserID:   userID,
		Message:  message,
		BookName: stringArg(args, "book"),
		Chapter:  stringArg(args, "chapter"),
	})
	return &ToolResult{Content: formatReply(reply), IsError: reply.Type == dialog.TypeError}, nil
}

func (s *Server) handleContext(ctx context.Context, args map[string]any) (*ToolResult, error) {
	userID, errResult := userIDArg(args)
	if errResult != nil {
		return errResult, nil
	}
	uc := s.engine.Context(ctx, userID)
	data, err := json.MarshalIndent(uc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return &ToolResult{Content: string(data)}, nil
}

func userIDArg(args map[string]any) (string, *ToolResult) {
	userID := strings.TrimSpace(stringArg(args, "user_id"))
	if userID == "" {
		return "", &ToolResult{Content: "user_id is required", IsError: true}
	}
	if !identity.ValidUserID(userID) {
		return "", &ToolResult{Content: fmt.Sprintf("invalid user_id: %q", userID), IsError: true}
	}
	return userID, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func formatReply(r dialog.Reply) string {
	var b strings.Builder
	b.WriteString(r.Reply)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "intent: %s (%.2f)\n", r.Intent, r.Confidence)
	fmt.Fprintf(&b, "type: %s\n", r.Type)
	fmt.Fprintf(&b, "source: %s", r.Source)
	if r.Fallback {
		b.WriteString(" (fallback)")
	}
	return b.String()
}
