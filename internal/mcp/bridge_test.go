package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

func sampleTool() mcpgo.Tool {
	return mcpgo.Tool{
		Name:        "read_file",
		Description: "Read a file from the project.",
		InputSchema: mcpgo.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			Required: []string{"path"},
		},
	}
}

func TestBridgeToolName(t *testing.T) {
	var connected atomic.Bool
	bt := newBridgeTool("filesystem", sampleTool(), nil, time.Second, &connected)

	if got := bt.Name(); got != "filesystem_read_file" {
		t.Errorf("Name() = %q, want %q", got, "filesystem_read_file")
	}
	if got := bt.OriginalName(); got != "read_file" {
		t.Errorf("OriginalName() = %q, want %q", got, "read_file")
	}
}

func TestBridgeToolDescription(t *testing.T) {
	var connected atomic.Bool

	bt := newBridgeTool("fs", sampleTool(), nil, time.Second, &connected)
	if got := bt.Description(); got != "Read a file from the project." {
		t.Errorf("Description() = %q", got)
	}

	blank := sampleTool()
	blank.Description = ""
	bt = newBridgeTool("fs", blank, nil, time.Second, &connected)
	if got, want := bt.Description(), "Tool read_file provided by MCP server fs"; got != want {
		t.Errorf("fallback Description() = %q, want %q", got, want)
	}
}

func TestBridgeToolParameters(t *testing.T) {
	var connected atomic.Bool

	bt := newBridgeTool("fs", sampleTool(), nil, time.Second, &connected)
	params := bt.Parameters()
	if params["type"] != "object" {
		t.Errorf("type = %v, want object", params["type"])
	}
	props, ok := params["properties"].(map[string]interface{})
	if !ok || len(props) != 1 {
		t.Fatalf("properties = %v", params["properties"])
	}
	required, ok := params["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "path" {
		t.Errorf("required = %v", params["required"])
	}
}

func TestBridgeToolParametersEmptySchema(t *testing.T) {
	var connected atomic.Bool
	bt := newBridgeTool("fs", mcpgo.Tool{Name: "noop"}, nil, time.Second, &connected)

	params := bt.Parameters()
	if params["type"] != "object" {
		t.Errorf("type = %v, want object", params["type"])
	}
	if _, ok := params["properties"]; ok {
		t.Error("empty schema should omit properties")
	}
	if _, ok := params["required"]; ok {
		t.Error("empty schema should omit required")
	}
}

func TestBridgeToolExecuteDisconnected(t *testing.T) {
	var connected atomic.Bool
	bt := newBridgeTool("github", sampleTool(), nil, time.Second, &connected)

	res := bt.Execute(context.Background(), map[string]interface{}{"path": "x"})
	if !res.IsError {
		t.Fatal("expected error result from disconnected server")
	}
	if want := "MCP server github is not connected"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name    string
		content []mcpgo.Content
		want    string
	}{
		{
			name: "text parts joined",
			content: []mcpgo.Content{
				mcpgo.TextContent{Type: "text", Text: "hello"},
				mcpgo.TextContent{Type: "text", Text: "world"},
			},
			want: "hello\nworld",
		},
		{
			name: "image noted by type",
			content: []mcpgo.Content{
				mcpgo.TextContent{Type: "text", Text: "see attached"},
				mcpgo.ImageContent{Type: "image", MIMEType: "image/png"},
			},
			want: "see attached\n[image content: image/png]",
		},
		{
			name: "empty",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flattenContent(tt.content); got != tt.want {
				t.Errorf("flattenContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
