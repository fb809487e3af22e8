package mcperr

import (
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/query"
	"github.com/vinodismyname/mcpsheets/internal/store"
)

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestClassify(t *testing.T) {
	cases := map[Code]error{
		InvalidSheet:        fmt.Errorf("get: %w", store.ErrSheetNotFound),
		InvalidColumn:       fmt.Errorf("%w: %q", query.ErrColumnNotFound, "region"),
		CompileFailed:       fmt.Errorf("%w: unexpected token", eval.ErrCompile),
		InvalidInitialValue: eval.ErrInitialValue,
		Timeout:             eval.ErrEvalTimeout,
		DialectDisabled:     eval.ErrDialectDisabled,
	}
	for want, err := range cases {
		require.Equal(t, want, Classify(err, QueryFailed), err.Error())
	}
	require.Equal(t, QueryFailed, Classify(fmt.Errorf("boom"), QueryFailed))
}

func TestFromErrorAddsGuidance(t *testing.T) {
	res := FromError(fmt.Errorf("%w: \"Sales\"", store.ErrSheetNotFound), QueryFailed)
	msg := text(t, res)
	require.Contains(t, msg, "INVALID_SHEET: store: sheet not found")
	require.Contains(t, msg, "nextSteps: Call list_sheets")
}

func TestFromText(t *testing.T) {
	require.Contains(t, text(t, FromText("VALIDATION: sheet is required")), "VALIDATION: sheet is required | nextSteps:")
	require.Equal(t, "CUSTOM: kept", text(t, FromText("CUSTOM: kept")))
}
