package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/hermit/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the local tools.Tool interface.
// It registers as {server}_{tool} so tools from different servers cannot
// shadow each other or the built-ins.
type BridgeTool struct {
	server    string
	tool      mcpgo.Tool
	client    *mcpclient.Client
	timeout   time.Duration
	connected *atomic.Bool
}

func newBridgeTool(server string, tool mcpgo.Tool, client *mcpclient.Client, timeout time.Duration, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		server:    server,
		tool:      tool,
		client:    client,
		timeout:   timeout,
		connected: connected,
	}
}

func (t *BridgeTool) Name() string {
	return t.server + "_" + t.tool.Name
}

// OriginalName returns the tool name as the server advertises it.
func (t *BridgeTool) OriginalName() string {
	return t.tool.Name
}

func (t *BridgeTool) Description() string {
	if t.tool.Description != "" {
		return t.tool.Description
	}
	return fmt.Sprintf("Tool %s provided by MCP server %s", t.tool.Name, t.server)
}

// Parameters converts the advertised input schema into the registry's
// schema map form.
func (t *BridgeTool) Parameters() map[string]interface{} {
	params := map[string]interface{}{
		"type": "object",
	}
	if t.tool.InputSchema.Type != "" {
		params["type"] = t.tool.InputSchema.Type
	}
	if len(t.tool.InputSchema.Properties) > 0 {
		params["properties"] = t.tool.InputSchema.Properties
	}
	if len(t.tool.InputSchema.Required) > 0 {
		params["required"] = t.tool.InputSchema.Required
	}
	return params
}

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !t.connected.Load() {
		return tools.ErrorResult("MCP server %s is not connected", t.server)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.tool.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult("MCP tool %s failed: %v", t.Name(), err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = fmt.Sprintf("MCP tool %s reported an error", t.Name())
		}
		return tools.ErrorResult("%s", text)
	}
	if text == "" {
		text = "(no output)"
	}
	return tools.NewResult(text)
}

// flattenContent joins the text parts of a tool result. Non-text content
// is noted by type rather than dropped silently.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[image content: %s]", v.MIMEType))
		default:
			parts = append(parts, fmt.Sprintf("[unsupported content type %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
