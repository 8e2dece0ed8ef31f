package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/hermit/internal/config"
)

// fakeProvider records the last request and returns a canned response.
type fakeProvider struct {
	name     string
	model    string
	lastReq  ChatRequest
	response *ChatResponse
	err      error
}

func (f *fakeProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &ChatResponse{Content: "ok", FinishReason: "stop"}, nil
}

func (f *fakeProvider) DefaultModel() string { return f.model }
func (f *fakeProvider) Name() string         { return f.name }

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	anthropic := &fakeProvider{name: "anthropic", model: "claude-sonnet-4-5"}
	openai := &fakeProvider{name: "openai", model: "gpt-4o"}
	r.Register(anthropic)
	r.Register(openai)
	r.SetDefault("anthropic", "claude-sonnet-4-5")

	tests := []struct {
		name         string
		model        string
		wantProvider string
		wantModel    string
	}{
		{"prefixed", "openai/gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"bare goes to default", "claude-opus-4-5", "anthropic", "claude-opus-4-5"},
		{"unknown prefix passes through", "meta/llama-3-70b", "anthropic", "meta/llama-3-70b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, model, err := r.Resolve(tt.model)
			if err != nil {
				t.Fatal(err)
			}
			if p.Name() != tt.wantProvider {
				t.Errorf("provider = %q, want %q", p.Name(), tt.wantProvider)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestRegistry_Resolve_Empty(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.Resolve("any"); err == nil {
		t.Error("Resolve on empty registry should error")
	}
}

func TestRegistry_FirstRegisteredIsDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "groq", model: "llama-3.3-70b-versatile"})

	p, model, err := r.Resolve("llama-3.1-8b-instant")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "groq" || model != "llama-3.1-8b-instant" {
		t.Errorf("Resolve = (%q, %q), want (groq, llama-3.1-8b-instant)", p.Name(), model)
	}
}

func TestRegistry_ModelForJob(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "anthropic", model: "claude-sonnet-4-5"})
	r.SetDefault("anthropic", "anthropic/claude-sonnet-4-5")
	r.SetJobModels(config.JobModelsConfig{
		JournalSynthesis: "groq/llama-3.3-70b-versatile",
	})

	if model, ok := r.ModelForJob(config.JobJournalSynthesis); !ok || model != "groq/llama-3.3-70b-versatile" {
		t.Errorf("journal job = (%q, %v), want configured model", model, ok)
	}
	if model, ok := r.ModelForJob(config.JobReflection); !ok || model != "anthropic/claude-sonnet-4-5" {
		t.Errorf("reflection job = (%q, %v), want primary fallback", model, ok)
	}
	if model, ok := r.ModelForJob(config.JobDistillation); ok {
		t.Errorf("distillation with no model = (%q, %v), want skip", model, ok)
	}
}

func TestRegistry_Chat(t *testing.T) {
	fake := &fakeProvider{name: "openai", model: "gpt-4o", response: &ChatResponse{Content: "hi", FinishReason: "stop"}}
	r := NewRegistry()
	r.Register(fake)

	resp, err := r.Chat(context.Background(), "openai/gpt-4o-mini", ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want hi", resp.Content)
	}
	if fake.lastReq.Model != "gpt-4o-mini" {
		t.Errorf("provider received model %q, want bare gpt-4o-mini", fake.lastReq.Model)
	}
}

func TestRegistry_Chat_WrapsModelFailure(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Register(&fakeProvider{name: "openai", model: "gpt-4o", err: boom})

	_, err := r.Chat(context.Background(), "gpt-4o", ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	var mf *ModelFailure
	if !errors.As(err, &mf) {
		t.Fatalf("error %T not a *ModelFailure", err)
	}
	if mf.Provider != "openai" || !errors.Is(err, boom) {
		t.Errorf("ModelFailure = %+v, want provider openai wrapping boom", mf)
	}
}

func TestRegistry_Chat_EmptyModelUsesPrimary(t *testing.T) {
	fake := &fakeProvider{name: "anthropic", model: "claude-sonnet-4-5"}
	r := NewRegistry()
	r.Register(fake)
	r.SetDefault("anthropic", "claude-opus-4-5")

	if _, err := r.Chat(context.Background(), "", ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if fake.lastReq.Model != "claude-opus-4-5" {
		t.Errorf("provider received model %q, want primary claude-opus-4-5", fake.lastReq.Model)
	}
}
