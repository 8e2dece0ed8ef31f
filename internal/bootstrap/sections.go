package bootstrap

import "strings"

// AppendToSection inserts content at the end of the named "## " section of a
// markdown document. When the section is missing it is created at the end of
// the document. Existing text is never reordered or rewritten, so the edit
// history of a bootstrap file reads top to bottom.
func AppendToSection(doc, section, content string) string {
	content = strings.TrimSpace(content)
	doc = strings.TrimRight(doc, "\n")

	if doc == "" {
		return section + "\n\n" + content + "\n"
	}

	lines := strings.Split(doc, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == section {
			start = i
			break
		}
	}
	if start == -1 {
		return doc + "\n\n" + section + "\n\n" + content + "\n"
	}

	// The section runs until the next "## " sibling or the end of the file.
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}

	head := lines[:end]
	for len(head) > 0 && strings.TrimSpace(head[len(head)-1]) == "" {
		head = head[:len(head)-1]
	}

	out := make([]string, 0, len(lines)+4)
	out = append(out, head...)
	out = append(out, "", content)
	if end < len(lines) {
		out = append(out, "")
		out = append(out, lines[end:]...)
	}
	return strings.Join(out, "\n") + "\n"
}
