package memory

import (
	"strconv"
	"strings"
)

var sectionTitles = map[Category]string{
	CategoryFact:       "Facts",
	CategoryDecision:   "Decisions",
	CategoryGoal:       "Goals",
	CategoryTask:       "Tasks",
	CategoryReflection: "Reflections",
}

// BuildContext renders all non-archived items as the memory section of the
// system prompt: one "## {Category}" block per non-empty category, items
// newest first, blocks joined by a horizontal rule.
func (s *Store) BuildContext() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sections []string
	for _, c := range Categories {
		items := s.scanCategory(c, false)
		if len(items) == 0 {
			continue
		}
		sortByUpdated(items)

		blocks := make([]string, 0, len(items))
		for _, it := range items {
			blocks = append(blocks, renderItem(it))
		}
		sections = append(sections, "## "+sectionTitles[c]+"\n\n"+strings.Join(blocks, "\n\n"))
	}
	return strings.Join(sections, "\n\n---\n\n"), nil
}

// renderItem formats one item: a "###" title, an optional parenthesized
// meta line, then the content.
func renderItem(it *Item) string {
	lines := []string{"### " + it.Title}
	if meta := metaLine(it); meta != "" {
		lines = append(lines, "("+meta+")")
	}
	lines = append(lines, it.Content)
	return strings.Join(lines, "\n")
}

// metaLine joins the item's available metadata with " | " in a fixed order.
func metaLine(it *Item) string {
	var parts []string
	if len(it.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(it.Tags, ", "))
	}
	if it.Status != "" {
		parts = append(parts, "Status: "+it.Status)
	}
	if it.Assignee != "" {
		parts = append(parts, "Assignee: "+it.Assignee)
	}
	if it.Deadline != "" {
		parts = append(parts, "Deadline: "+it.Deadline)
	}
	if it.Priority != "" {
		parts = append(parts, "Priority: "+it.Priority)
	}
	if it.Confidence != nil {
		parts = append(parts, "Confidence: "+strconv.FormatFloat(*it.Confidence, 'g', -1, 64))
	}
	if it.Source != "" {
		parts = append(parts, "Source: "+it.Source)
	}
	if it.Supersedes != "" {
		parts = append(parts, "Supersedes: "+it.Supersedes)
	}
	return strings.Join(parts, " | ")
}
