package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Hooks wires mcp-go server lifecycle callbacks to logging and metrics.
type Hooks struct {
	logger  zerolog.Logger
	metrics *Metrics
	started sync.Map // request id -> time.Time
}

// NewHooks constructs a Hooks instance. metrics may be nil.
func NewHooks(logger zerolog.Logger, metrics *Metrics) *Hooks {
	return &Hooks{logger: logger, metrics: metrics}
}

// Server returns the hook set to pass to server.WithHooks.
func (h *Hooks) Server() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("session_id", session.SessionID()).Msg("session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("session_id", session.SessionID()).Msg("session unregistered")
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		// Keep it light: tool count only
		h.logger.Info().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddAfterReadResource(func(ctx context.Context, id any, req *mcp.ReadResourceRequest, res *mcp.ReadResourceResult) {
		h.logger.Info().Str("uri", req.Params.URI).Msg("resource read served")
	})

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		h.started.Store(id, time.Now())
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		h.ToolCalled(id, req.Params.Name, res != nil && res.IsError)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		h.started.Delete(id)
		h.logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}

// ToolCalled logs and records a finished call started under id.
func (h *Hooks) ToolCalled(id any, tool string, isError bool) {
	var elapsed time.Duration
	if v, ok := h.started.LoadAndDelete(id); ok {
		elapsed = time.Since(v.(time.Time))
	}
	if h.metrics != nil {
		h.metrics.ObserveToolCall(tool, isError, elapsed)
	}
	evt := h.logger.Info()
	if isError {
		evt = h.logger.Warn()
	}
	evt.Str("tool", tool).Dur("duration", elapsed).Bool("is_error", isError).Msg("tool call served")
}
