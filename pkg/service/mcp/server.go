package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/usecase/conversation"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "mkai"
	serverVersion = "0.1.0"
)

// Controller is the conversation surface exposed as MCP tools
type Controller interface {
	Send(ctx context.Context, text, imageURI string) (*model.ChatMessage, error)
	Sessions() []*model.ChatSession
	ActiveSession() *model.ChatSession
	NewSession(ctx context.Context) *model.ChatSession
}

// Server exposes a conversation controller over the Model Context Protocol
type Server struct {
	ctrl   Controller
	server *mcp.Server
}

type sendMessageParams struct {
	Text      string `json:"text"`
	ImagePath string `json:"image_path,omitempty"`
}

type emptyParams struct{}

func sendMessageSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"text": {
				Type:        "string",
				Description: "Message to send. May be empty when image_path is given.",
			},
			"image_path": {
				Type:        "string",
				Description: "Path of a local image file to attach",
			},
		},
		Required: []string{"text"},
	}
}

func emptySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
}

// NewServer creates a Server and registers its tools
func NewServer(ctrl Controller) *Server {
	s := &Server{
		ctrl: ctrl,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a message to MK AI in the active conversation. The assistant may chat, search the web, generate images or analyze and edit an attached image.",
		InputSchema: sendMessageSchema(),
	}, s.sendMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List stored conversations, newest first",
		InputSchema: emptySchema(),
	}, s.listSessions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "new_session",
		Description: "Start a new conversation and make it active",
		InputSchema: emptySchema(),
	}, s.newSession)

	return s
}

// Run serves over stdin/stdout until ctx is cancelled or the client leaves
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Handler returns a streamable HTTP handler serving the same tools
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func (s *Server) sendMessage(ctx context.Context, req *mcp.CallToolRequest, params *sendMessageParams) (*mcp.CallToolResult, any, error) {
	logger := logging.From(ctx)

	var imageURI string
	if params.ImagePath != "" {
		uri, err := media.EncodeFile(ctx, params.ImagePath)
		if err != nil {
			logger.Warn("failed to attach image", "error", err, "path", params.ImagePath)
			return errorResult("cannot attach image: " + err.Error()), nil, nil
		}
		imageURI = uri
	}

	msg, err := s.ctrl.Send(ctx, params.Text, imageURI)
	switch {
	case errors.Is(err, conversation.ErrBusy):
		return errorResult("MK AI is still answering the previous message. Try again shortly."), nil, nil
	case errors.Is(err, conversation.ErrEmptyTurn):
		return errorResult("text or image_path is required"), nil, nil
	case err != nil:
		return nil, nil, goerr.Wrap(err, "failed to send message")
	}

	return messageResult(msg)
}

// messageResult renders an assistant message as tool content
func messageResult(msg *model.ChatMessage) (*mcp.CallToolResult, any, error) {
	result := &mcp.CallToolResult{}

	if text := formatText(msg); text != "" {
		result.Content = append(result.Content, &mcp.TextContent{Text: text})
	}

	if msg.ImageURL != "" {
		mimeType, data, err := media.ParseDataURI(msg.ImageURL)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to decode generated image")
		}
		result.Content = append(result.Content, &mcp.ImageContent{
			Data:     data,
			MIMEType: mimeType,
		})
	}

	return result, nil, nil
}

func formatText(msg *model.ChatMessage) string {
	var b strings.Builder
	b.WriteString(msg.Text)

	if len(msg.Sources) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Sources:")
		for i, src := range msg.Sources {
			fmt.Fprintf(&b, "\n[%d] %s - %s", i+1, src.Title, src.URI)
		}
	}

	return b.String()
}

func (s *Server) listSessions(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	sessions := s.ctrl.Sessions()
	if len(sessions) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "No conversations yet"}},
		}, nil, nil
	}

	var activeID model.SessionID
	if active := s.ctrl.ActiveSession(); active != nil {
		activeID = active.ID
	}

	lines := make([]string, 0, len(sessions))
	for i, session := range sessions {
		marker := ""
		if session.ID == activeID {
			marker = " (active)"
		}
		lines = append(lines, fmt.Sprintf("%d. %s [%s] %d messages%s",
			i+1, session.Title, session.ID, len(session.Messages), marker))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: strings.Join(lines, "\n")}},
	}, nil, nil
}

func (s *Server) newSession(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	session := s.ctrl.NewSession(ctx)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Started conversation %s", session.ID)},
		},
	}, nil, nil
}
