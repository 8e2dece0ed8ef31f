package tools

import "fmt"

// Result is the unified return type from tool execution. Tool failures are
// reified as results so the model sees what went wrong; Execute never
// returns a Go error to the loop.
type Result struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
}

func NewResult(text string) *Result {
	return &Result{Text: text}
}

func ErrorResult(format string, args ...any) *Result {
	return &Result{Text: fmt.Sprintf(format, args...), IsError: true}
}
