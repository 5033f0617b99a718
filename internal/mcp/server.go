// Package mcp exposes the speech pipeline as Model Context Protocol tools so
// an assistant can speak its replies aloud.
package mcp

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-speaker/internal/journal"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type Config struct {
	ServerName    string
	ServerVersion string
	// MaxWait caps how long wait_until_done may block.
	MaxWait int
}

type Server struct {
	cfg       Config
	provider  *speech.Provider
	journal   *journal.Journal
	mcpServer *sdk.Server
	log       *slog.Logger
}

// NewServer registers the speech tools. journal may be nil, in which case the
// history tool is not offered.
func NewServer(cfg Config, provider *speech.Provider, j *journal.Journal, log *slog.Logger) *Server {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 300
	}
	s := &Server{
		cfg:      cfg,
		provider: provider,
		journal:  j,
		log:      log.With(slog.String("component", "mcp")),
	}
	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is cancelled or the client hangs up.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("serving MCP over stdio", slog.String("name", s.cfg.ServerName))
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "speak",
		Description: "Queue text to be spoken aloud. Markdown, code and URLs are stripped first; returns immediately.",
	}, s.handleSpeak)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "wait_until_done",
		Description: "Block until everything queued so far has been spoken",
	}, s.handleWait)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "status",
		Description: "Report model state, queue depth and activity of the speaker",
	}, s.handleStatus)

	if s.journal != nil {
		sdk.AddTool(s.mcpServer, &sdk.Tool{
			Name:        "history",
			Description: "List recently spoken utterances, newest first",
		}, s.handleHistory)
	}
}
