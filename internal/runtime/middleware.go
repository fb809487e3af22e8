package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsheets/pkg/mcperr"
)

// Middleware enforces runtime limits for tool calls using the Controller.
// It bounds global concurrency, applies an operation timeout to each call,
// and rejects results larger than the payload limit.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// ToolMiddleware implements mcp-go's tool handler middleware interface.
// It acquires a request slot, applies a timeout, and guarantees release.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := zerolog.Ctx(ctx).With().
			Str("request_id", uuid.NewString()).
			Str("tool", req.Params.Name).
			Logger()
		ctx = logger.WithContext(ctx)

		// Attempt to acquire request capacity with a bounded wait.
		acquireCtx := ctx
		if m.ctrl.limits.AcquireRequestTimeout > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
			defer cancel()
		}

		if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
			logger.Warn().Int("max", m.ctrl.limits.MaxConcurrentRequests).Msg("request rejected: busy")
			// Return a tool-level error so the client can self-correct/retry.
			return mcperr.Wrapf(mcperr.BusyResource, "concurrent request limit reached (max=%d)", m.ctrl.limits.MaxConcurrentRequests), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx := ctx
		cancel := func() {}
		// Apply operation timeout to bound execution time.
		if m.ctrl.limits.OperationTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.OperationTimeout)
		}
		defer cancel()

		start := time.Now()
		res, err := next(callCtx, req)
		elapsed := time.Since(start)

		// If the underlying handler surfaced a context deadline, prefer a tool-level timeout error.
		if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() == context.DeadlineExceeded && err == nil && res == nil) {
			logger.Warn().Dur("elapsed", elapsed).Msg("tool call timed out")
			return mcperr.New(mcperr.Timeout, ""), nil
		}
		if err == nil && res != nil && !res.IsError {
			if size := payloadSize(res); m.ctrl.limits.MaxPayloadBytes > 0 && size > m.ctrl.limits.MaxPayloadBytes {
				logger.Warn().Int("bytes", size).Msg("tool result exceeds payload limit")
				return mcperr.Wrapf(mcperr.PayloadTooLarge, "result is %d bytes (max=%d)", size, m.ctrl.limits.MaxPayloadBytes), nil
			}
		}

		logger.Debug().Dur("elapsed", elapsed).Bool("is_error", res != nil && res.IsError).Msg("tool call completed")
		return res, err
	}
}

// payloadSize is the size of one copy of the result: the structured body, or
// the text content when that is larger.
func payloadSize(res *mcp.CallToolResult) int {
	structured := 0
	if res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			structured = len(b)
		}
	}
	text := 0
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text += len(tc.Text)
		}
	}
	return max(structured, text)
}
