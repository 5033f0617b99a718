package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type SpeakArgs struct {
	Text  string  `json:"text" jsonschema:"Text to speak"`
	Voice string  `json:"voice,omitempty" jsonschema:"Voice name (default: configured voice)"`
	Speed float64 `json:"speed,omitempty" jsonschema:"Speech rate multiplier (default: configured speed)"`
}

type WaitArgs struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" jsonschema:"Give up after this many seconds (default and maximum: server limit)"`
}

type StatusArgs struct{}

type HistoryArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Number of entries to return (default: 10)"`
}

func textResult(format string, args ...any) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (s *Server) handleSpeak(ctx context.Context, req *sdk.CallToolRequest, args SpeakArgs) (*sdk.CallToolResult, any, error) {
	p, err := s.provider.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("speech pipeline unavailable: %w", err)
	}
	id, ok := p.QueueText(args.Text, args.Voice, args.Speed)
	if !ok {
		res := textResult("Nothing to speak: text is too short after removing markdown, code and URLs.")
		res.IsError = true
		return res, nil, nil
	}
	return textResult("Queued %s (%d waiting)", id, p.Status().Outstanding), nil, nil
}

func (s *Server) handleWait(ctx context.Context, req *sdk.CallToolRequest, args WaitArgs) (*sdk.CallToolResult, any, error) {
	p := s.provider.Current()
	if p == nil {
		return textResult("Nothing queued."), nil, nil
	}
	timeout := args.TimeoutSeconds
	if timeout <= 0 || timeout > s.cfg.MaxWait {
		timeout = s.cfg.MaxWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.WaitUntilDone(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res := textResult("Still speaking after %ds (%d outstanding).", timeout, p.Status().Outstanding)
			res.IsError = true
			return res, nil, nil
		}
		return nil, nil, err
	}
	return textResult("Done speaking (waited %s).", time.Since(start).Round(time.Millisecond)), nil, nil
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, args StatusArgs) (*sdk.CallToolResult, any, error) {
	p := s.provider.Current()
	if p == nil {
		return textResult("Speaker not started; the model loads on first use."), nil, nil
	}
	st := p.Status()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode status: %w", err)
	}
	content := []sdk.Content{&sdk.TextContent{Text: string(data)}}
	if !st.LastActivity.IsZero() {
		content = append(content, &sdk.TextContent{Text: "Last activity " + humanize.Time(st.LastActivity)})
	}
	return &sdk.CallToolResult{Content: content}, nil, nil
}

func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryArgs) (*sdk.CallToolResult, any, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.journal.Recent(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read history: %w", err)
	}
	content := []sdk.Content{
		&sdk.TextContent{Text: fmt.Sprintf("Recent utterances (%d):", len(entries))},
	}
	for _, e := range entries {
		line := fmt.Sprintf("- [%s] %s %q", e.Status, humanize.Time(e.FinishedAt), e.Text)
		if e.Error != "" {
			line += " error: " + e.Error
		}
		content = append(content, &sdk.TextContent{Text: line})
	}
	return &sdk.CallToolResult{Content: content}, nil, nil
}
