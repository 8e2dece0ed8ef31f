package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/tools"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string {
	return s.name
}

func (s stubTool) Description() string {
	return "stub"
}

func (s stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (s stubTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return tools.NewResult("ok")
}

func TestStartNoConfigs(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if got := len(m.ServerStatus()); got != 0 {
		t.Errorf("ServerStatus() has %d entries, want 0", got)
	}
}

func TestStartReportsBadServers(t *testing.T) {
	configs := map[string]*config.MCPServerConfig{
		"bad":    {Transport: "carrier-pigeon"},
		"absent": nil,
	}
	m := NewManager(tools.NewRegistry(), configs)

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for unsupported transport")
	}
	if !strings.Contains(err.Error(), "bad: create client") {
		t.Errorf("error %q should name the failing server", err)
	}
	if !strings.Contains(err.Error(), "unsupported transport") {
		t.Errorf("error %q should name the cause", err)
	}
	if got := len(m.ServerStatus()); got != 0 {
		t.Errorf("ServerStatus() has %d entries, want 0", got)
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.MCPServerConfig
		wantErr string
	}{
		{
			name:    "unsupported transport",
			cfg:     &config.MCPServerConfig{Transport: "websocket"},
			wantErr: "unsupported transport",
		},
		{
			name:    "stdio without command",
			cfg:     &config.MCPServerConfig{Transport: "stdio"},
			wantErr: "requires a command",
		},
		{
			name:    "http without url",
			cfg:     &config.MCPServerConfig{Transport: "streamable-http"},
			wantErr: "requires a url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newClient(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("newClient() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTransportOf(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.MCPServerConfig
		want string
	}{
		{"explicit wins", &config.MCPServerConfig{Transport: "streamable-http", Command: "srv"}, "streamable-http"},
		{"command implies stdio", &config.MCPServerConfig{Command: "srv"}, "stdio"},
		{"url implies http", &config.MCPServerConfig{URL: "http://localhost:3000/mcp"}, "streamable-http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transportOf(tt.cfg); got != tt.want {
				t.Errorf("transportOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvSlice(t *testing.T) {
	if got := envSlice(nil); got != nil {
		t.Errorf("envSlice(nil) = %v, want nil", got)
	}
	got := envSlice(map[string]string{"API_KEY": "secret"})
	if len(got) != 1 || got[0] != "API_KEY=secret" {
		t.Errorf("envSlice() = %v", got)
	}
}

func TestStopUnmountsTools(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(stubTool{name: "alpha_read"})
	registry.Register(stubTool{name: "alpha_write"})
	registry.Register(stubTool{name: "exec"})

	m := NewManager(registry, nil)
	m.servers["alpha"] = &serverState{
		name:      "alpha",
		transport: "stdio",
		toolNames: []string{"alpha_read", "alpha_write"},
	}

	m.Stop()

	if _, ok := registry.Get("alpha_read"); ok {
		t.Error("alpha_read still registered after Stop")
	}
	if _, ok := registry.Get("alpha_write"); ok {
		t.Error("alpha_write still registered after Stop")
	}
	if _, ok := registry.Get("exec"); !ok {
		t.Error("Stop should leave non-MCP tools alone")
	}
	if got := len(m.ServerStatus()); got != 0 {
		t.Errorf("ServerStatus() has %d entries after Stop, want 0", got)
	}
}

func TestServerStatusSorted(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)

	down := &serverState{name: "zulu", transport: "streamable-http", toolNames: []string{"zulu_ping"}}
	down.lastErr = "connection refused"
	up := &serverState{name: "alpha", transport: "stdio", toolNames: []string{"alpha_read", "alpha_write"}}
	up.connected.Store(true)
	m.servers["zulu"] = down
	m.servers["alpha"] = up

	statuses := m.ServerStatus()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].Name != "alpha" || statuses[1].Name != "zulu" {
		t.Errorf("statuses out of order: %s, %s", statuses[0].Name, statuses[1].Name)
	}
	if !statuses[0].Connected || statuses[0].ToolCount != 2 {
		t.Errorf("alpha status = %+v", statuses[0])
	}
	if statuses[1].Connected || statuses[1].Error != "connection refused" {
		t.Errorf("zulu status = %+v", statuses[1])
	}
}

func TestToolNamesSorted(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)
	m.servers["b"] = &serverState{name: "b", toolNames: []string{"b_z", "b_a"}}
	m.servers["a"] = &serverState{name: "a", toolNames: []string{"a_m"}}

	got := m.ToolNames()
	want := []string{"a_m", "b_a", "b_z"}
	if len(got) != len(want) {
		t.Fatalf("ToolNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ToolNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTryReconnectExhausted(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)
	ss := &serverState{name: "flaky"}
	ss.reconnAttempts = maxReconnectAttempts

	m.tryReconnect(context.Background(), ss)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !strings.Contains(ss.lastErr, "gave up after") {
		t.Errorf("lastErr = %q, want exhaustion note", ss.lastErr)
	}
}
