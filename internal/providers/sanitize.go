package providers

import (
	"regexp"
	"strings"
)

// Reasoning models (DeepSeek-R1, QwQ, o3-style distills) leak chain-of-thought
// wrapped in pseudo-XML tags. Nothing downstream wants those: not the
// channels, not the journal, not the distiller parsing JSON out of a reply.
// Go regexp has no backreferences, so each tag gets its own pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

// StripThinking removes <think>-style reasoning blocks from model output and
// trims the remainder. Only properly closed blocks are removed; an unpaired
// tag is left alone rather than guessing where the reasoning ends.
func StripThinking(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	result := content
	for _, pat := range thinkingTagPatterns {
		result = pat.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}
