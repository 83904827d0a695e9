// Package mcpserver exposes the podcast assistant as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/episodes"
	"podcastrag/internal/logger"
	"podcastrag/internal/prompt"
	"podcastrag/internal/service"
)

// GuestLister lists guests with their episode counts.
type GuestLister interface {
	Guests(ctx context.Context) ([]episodes.GuestCount, error)
}

// Handlers serve one conversation shared by every tool call of the connected client.
type Handlers struct {
	mu     sync.Mutex
	svc    *service.QueryService
	guests GuestLister
	log    *logger.Logger
}

func NewHandlers(svc *service.QueryService, guests GuestLister, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{svc: svc, guests: guests, log: log}
}

var askToolDef = mcp.NewTool("ask_podcast",
	mcp.WithDescription("Ask a question about the podcast. Follow-up questions use the ongoing conversation."),
	mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
	mcp.WithString("guest", mcp.Description("Only use excerpts from this guest")),
	mcp.WithString("industry", mcp.Description("Only use excerpts tagged with this industry")),
	mcp.WithNumber("top_k", mcp.Description("Number of excerpts to ground the answer on")),
	mcp.WithBoolean("stateless", mcp.Description("Answer without reading or updating the conversation")),
)

var clearToolDef = mcp.NewTool("clear_conversation",
	mcp.WithDescription("Forget the conversation history and context."),
)

var guestsToolDef = mcp.NewTool("list_guests",
	mcp.WithDescription("List podcast guests and how many episodes each appears in."),
)

type askRequest struct {
	Question  string `json:"question"`
	Guest     string `json:"guest,omitempty"`
	Industry  string `json:"industry,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
	Stateless bool   `json:"stateless,omitempty"`
}

type sourceView struct {
	Guest      string  `json:"guest"`
	Expertise  string  `json:"expertise,omitempty"`
	YouTubeURL string  `json:"youtube_url,omitempty"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

type askResponse struct {
	Answer      string       `json:"answer"`
	Sources     []sourceView `json:"sources"`
	SourcesText string       `json:"sources_text"`
	Model       string       `json:"model"`
}

// NewServer registers the tools on a new MCP server.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer("podcastrag", version, server.WithToolCapabilities(true))
	s.AddTool(askToolDef, h.HandleAsk)
	s.AddTool(clearToolDef, h.HandleClear)
	if h.guests != nil {
		s.AddTool(guestsToolDef, h.HandleGuests)
	}
	return s
}

// Run serves the tools on stdin and stdout until the client disconnects.
func Run(h *Handlers, version string) error {
	return server.ServeStdio(NewServer(h, version))
}

func (h *Handlers) HandleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[askRequest](req)
	if err != nil {
		return errorResult(rerrors.NewInvalidRequest(err.Error())), nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.svc.DefaultRequest(input.Question)
	if input.TopK > 0 {
		q.TopK = input.TopK
	}
	q.GuestFilter = input.Guest
	q.IndustryFilter = input.Industry
	q.Stateless = input.Stateless

	resp, err := h.svc.Answer(ctx, q)
	if err != nil {
		h.log.Warn("ask_podcast failed", logrus.Fields{"error": err.Error()})
		return errorResult(err), nil
	}
	out := askResponse{
		Answer:      resp.Answer,
		Sources:     make([]sourceView, 0, len(resp.Sources)),
		SourcesText: prompt.SourcesSummary(resp.Sources),
		Model:       resp.Model,
	}
	for _, c := range resp.Sources {
		out.Sources = append(out.Sources, viewOf(c))
	}
	return mcp.NewToolResultJSON(out)
}

func (h *Handlers) HandleClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.svc.ClearConversation()
	return mcp.NewToolResultJSON(map[string]bool{"cleared": true})
}

func (h *Handlers) HandleGuests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guests, err := h.guests.Guests(ctx)
	if err != nil {
		return errorResult(rerrors.NewInternal(err)), nil
	}
	return mcp.NewToolResultJSON(map[string]any{"guests": guests})
}

func viewOf(c domain.RetrievalCandidate) sourceView {
	return sourceView{
		Guest:      c.Chunk.Guest,
		Expertise:  c.Chunk.GuestExpertise,
		YouTubeURL: c.Chunk.YouTubeURL,
		Score:      c.Score,
		Excerpt:    c.Chunk.Text,
	}
}

// decode unmarshals tool arguments into T.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

// errorResult reports err as a tool failure. Internal causes are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	rErr, ok := rerrors.As(err)
	if !ok {
		rErr = rerrors.NewInternal(err)
	}
	errObj := map[string]any{"code": rErr.Code, "message": rErr.Message, "status": rErr.Status}
	if rErr.Code != rerrors.ErrInternal && rErr.Details != nil {
		errObj["details"] = rErr.Details
	}
	content, _ := json.Marshal(map[string]any{"error": errObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}
