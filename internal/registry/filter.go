package registry

import (
	"context"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
)

// ScriptTools are the tools that execute caller-supplied code.
var ScriptTools = []string{ToolCustomFilterSheet, ToolReduceColumn}

// ScriptToolFilter hides code-executing tools from discovery when disabled.
// Configure with MCPSHEETS_DISABLE_SCRIPT_TOOLS=true.
type ScriptToolFilter struct {
	disabled bool
}

// NewScriptToolFilter constructs a filter; disabled hides ScriptTools.
func NewScriptToolFilter(disabled bool) *ScriptToolFilter {
	return &ScriptToolFilter{disabled: disabled}
}

// Disabled reports whether script tools are hidden.
func (f *ScriptToolFilter) Disabled() bool { return f.disabled }

// FilterTools implements server tool filtering semantics.
func (f *ScriptToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if !f.disabled {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if slices.Contains(ScriptTools, t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}
