package distill

import (
	"reflect"
	"testing"

	"github.com/nextlevelbuilder/hermit/internal/memory"
)

func TestDecodeCandidate(t *testing.T) {
	t.Run("full fact", func(t *testing.T) {
		c, err := decodeCandidate(map[string]interface{}{
			"type":        "fact",
			"title":       "Prefers dark mode",
			"content":     "User wants dark mode everywhere.",
			"confidence":  0.9,
			"tags":        []interface{}{"ui", "preference"},
			"fact_source": "conversation",
		})
		if err != nil {
			t.Fatalf("decodeCandidate() error = %v", err)
		}
		if c.Type != memory.CategoryFact {
			t.Errorf("Type = %q, want fact", c.Type)
		}
		if c.Title != "Prefers dark mode" || c.Content != "User wants dark mode everywhere." {
			t.Errorf("title/content = %q / %q", c.Title, c.Content)
		}
		if c.Confidence == nil || *c.Confidence != 0.9 {
			t.Errorf("Confidence = %v, want 0.9", c.Confidence)
		}
		if !reflect.DeepEqual(c.Tags, []string{"ui", "preference"}) {
			t.Errorf("Tags = %v", c.Tags)
		}
		if c.FactSource != "conversation" {
			t.Errorf("FactSource = %q", c.FactSource)
		}
	})

	t.Run("type is case insensitive", func(t *testing.T) {
		c, err := decodeCandidate(map[string]interface{}{
			"type": " DECISION ", "title": "t", "content": "c",
		})
		if err != nil {
			t.Fatalf("decodeCandidate() error = %v", err)
		}
		if c.Type != memory.CategoryDecision {
			t.Errorf("Type = %q, want decision", c.Type)
		}
	})

	t.Run("task fields", func(t *testing.T) {
		c, err := decodeCandidate(map[string]interface{}{
			"type": "task", "title": "t", "content": "c",
			"task_assignee": "duc", "task_status": "open",
			"task_deadline": "2026-09-01", "task_priority": "high",
		})
		if err != nil {
			t.Fatalf("decodeCandidate() error = %v", err)
		}
		if c.TaskAssignee != "duc" || c.TaskStatus != "open" ||
			c.TaskDeadline != "2026-09-01" || c.TaskPriority != "high" {
			t.Errorf("task fields = %+v", c)
		}
	})

	t.Run("missing confidence stays nil", func(t *testing.T) {
		c, err := decodeCandidate(map[string]interface{}{
			"type": "fact", "title": "t", "content": "c",
		})
		if err != nil {
			t.Fatalf("decodeCandidate() error = %v", err)
		}
		if c.Confidence != nil {
			t.Errorf("Confidence = %v, want nil", *c.Confidence)
		}
	})

	t.Run("non-string tags are skipped", func(t *testing.T) {
		c, err := decodeCandidate(map[string]interface{}{
			"type": "fact", "title": "t", "content": "c",
			"tags": []interface{}{"a", 3.0, "b"},
		})
		if err != nil {
			t.Fatalf("decodeCandidate() error = %v", err)
		}
		if !reflect.DeepEqual(c.Tags, []string{"a", "b"}) {
			t.Errorf("Tags = %v, want [a b]", c.Tags)
		}
	})

	errTests := []struct {
		name    string
		in      map[string]interface{}
		wantErr string
	}{
		{
			name:    "missing type",
			in:      map[string]interface{}{"title": "t", "content": "c"},
			wantErr: "candidate type is required",
		},
		{
			name:    "unknown type",
			in:      map[string]interface{}{"type": "idea", "title": "t", "content": "c"},
			wantErr: `unknown candidate type "idea"`,
		},
		{
			name:    "confidence not a number",
			in:      map[string]interface{}{"type": "fact", "title": "t", "content": "c", "confidence": "high"},
			wantErr: "confidence must be a number",
		},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCandidate(tt.in)
			if err == nil {
				t.Fatal("decodeCandidate() succeeded, want error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCandidateValidate(t *testing.T) {
	conf := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		c    Candidate
		want []string
	}{
		{
			name: "valid fact",
			c:    Candidate{Type: memory.CategoryFact, Title: "t", Content: "c"},
			want: nil,
		},
		{
			name: "empty title",
			c:    Candidate{Type: memory.CategoryFact, Title: "  ", Content: "c"},
			want: []string{"Title is required"},
		},
		{
			name: "empty content",
			c:    Candidate{Type: memory.CategoryFact, Title: "t", Content: ""},
			want: []string{"Content is required"},
		},
		{
			name: "both missing accumulate",
			c:    Candidate{Type: memory.CategoryFact},
			want: []string{"Title is required", "Content is required"},
		},
		{
			name: "confidence too high",
			c:    Candidate{Type: memory.CategoryFact, Title: "t", Content: "c", Confidence: conf(1.5)},
			want: []string{"Confidence must be between 0.0 and 1.0"},
		},
		{
			name: "confidence negative",
			c:    Candidate{Type: memory.CategoryFact, Title: "t", Content: "c", Confidence: conf(-0.1)},
			want: []string{"Confidence must be between 0.0 and 1.0"},
		},
		{
			name: "confidence boundaries pass",
			c:    Candidate{Type: memory.CategoryFact, Title: "t", Content: "c", Confidence: conf(1.0)},
			want: nil,
		},
		{
			name: "task without assignee",
			c:    Candidate{Type: memory.CategoryTask, Title: "t", Content: "c"},
			want: []string{"Task assignee is required"},
		},
		{
			name: "task with assignee",
			c:    Candidate{Type: memory.CategoryTask, Title: "t", Content: "c", TaskAssignee: "distilled"},
			want: nil,
		},
		{
			name: "superseding decision needs rationale",
			c: Candidate{
				Type: memory.CategoryDecision, Title: "t", Content: "c",
				DecisionSupersedes: "abc12345",
			},
			want: []string{"Rationale required when superseding another decision"},
		},
		{
			name: "superseding decision with rationale",
			c: Candidate{
				Type: memory.CategoryDecision, Title: "t", Content: "c",
				DecisionSupersedes: "abc12345", DecisionRationale: "better trade-off",
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.c.Validate()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}
