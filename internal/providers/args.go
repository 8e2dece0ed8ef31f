package providers

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/titanous/json5"
)

// ParseToolArguments decodes a tool call's argument payload. Models sometimes
// emit almost-JSON (trailing commas, single quotes, unquoted keys); a JSON5
// pass repairs those before the arguments are given up on. Unrepairable
// payloads come back as an empty map, which tool schema validation then
// rejects with a message the model can react to.
func ParseToolArguments(raw []byte) map[string]interface{} {
	args := make(map[string]interface{})
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "" {
		return args
	}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	if err := json5.Unmarshal(raw, &args); err == nil {
		return args
	}
	preview := string(raw)
	if len(preview) > 120 {
		preview = preview[:120]
	}
	slog.Warn("tool arguments unparseable, passing empty args", "raw", preview)
	return map[string]interface{}{}
}
