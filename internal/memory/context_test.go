package memory

import (
	"strings"
	"testing"
)

func TestBuildContext(t *testing.T) {
	s := newTestStore(t)
	conf := 0.9

	seedFile(t, s.categoryDir(CategoryFact), "2026-01-02T00-00-00-aaaaaaaaaaaa-fact-older.md", &Item{
		ID: "aaaa1111", Title: "Older fact", Content: "Has metadata.", Category: CategoryFact,
		Tags: []string{"a", "b"}, Confidence: &conf, Source: "chat",
		CreatedAt: day(2), UpdatedAt: day(2),
	})
	seedFile(t, s.categoryDir(CategoryFact), "2026-01-05T00-00-00-bbbbbbbbbbbb-fact-newer.md", &Item{
		ID: "bbbb2222", Title: "Newest fact", Content: "Just content.", Category: CategoryFact,
		CreatedAt: day(5), UpdatedAt: day(5),
	})
	seedFile(t, s.categoryDir(CategoryTask), "2026-01-03T00-00-00-cccccccccccc-task-open.md", &Item{
		ID: "cccc3333", Title: "Open task", Content: "Do the thing.", Category: CategoryTask,
		Status: TaskOpen, Assignee: "agent", Deadline: "2026-04-01",
		CreatedAt: day(3), UpdatedAt: day(3),
	})

	got, err := s.BuildContext()
	if err != nil {
		t.Fatalf("BuildContext() error = %v", err)
	}

	want := "## Facts\n\n" +
		"### Newest fact\n" +
		"Just content.\n\n" +
		"### Older fact\n" +
		"(Tags: a, b | Confidence: 0.9 | Source: chat)\n" +
		"Has metadata.\n\n" +
		"---\n\n" +
		"## Tasks\n\n" +
		"### Open task\n" +
		"(Status: open | Assignee: agent | Deadline: 2026-04-01)\n" +
		"Do the thing."

	if got != want {
		t.Errorf("BuildContext() =\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildContext_ExcludesArchived(t *testing.T) {
	s := newTestStore(t)

	seedFile(t, s.categoryDir(CategoryGoal), "2026-01-02T00-00-00-aaaaaaaaaaaa-goal-active.md", &Item{
		ID: "aaaa1111", Title: "Active goal", Content: "Still going.", Category: CategoryGoal,
		Status:    GoalActive,
		CreatedAt: day(2), UpdatedAt: day(2),
	})
	seedFile(t, s.archivedDir(CategoryGoal), "2026-01-03T00-00-00-bbbbbbbbbbbb-goal-done.md", &Item{
		ID: "bbbb2222", Title: "Finished goal", Content: "Wrapped up.", Category: CategoryGoal,
		Status:    GoalAchieved,
		CreatedAt: day(3), UpdatedAt: day(3),
	})

	got, err := s.BuildContext()
	if err != nil {
		t.Fatalf("BuildContext() error = %v", err)
	}
	if strings.Contains(got, "Finished goal") {
		t.Error("archived goal leaked into the context")
	}
	if !strings.Contains(got, "### Active goal") {
		t.Error("active goal missing from the context")
	}
}

func TestBuildContext_Empty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.BuildContext()
	if err != nil {
		t.Fatalf("BuildContext() error = %v", err)
	}
	if got != "" {
		t.Errorf("BuildContext() = %q, want empty", got)
	}
}

func TestMetaLine_Order(t *testing.T) {
	conf := 0.5
	it := &Item{
		Tags:       []string{"x"},
		Status:     "active",
		Confidence: &conf,
		Source:     "chat",
		Supersedes: "abc12345",
	}
	want := "Tags: x | Status: active | Confidence: 0.5 | Source: chat | Supersedes: abc12345"
	if got := metaLine(it); got != want {
		t.Errorf("metaLine() = %q, want %q", got, want)
	}
}

func TestRenderItem_NoMeta(t *testing.T) {
	it := &Item{Title: "Bare", Content: "Only content."}
	if got := renderItem(it); got != "### Bare\nOnly content." {
		t.Errorf("renderItem() = %q", got)
	}
}
