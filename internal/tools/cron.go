package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scheduler is the slice of the cron scheduler the tool needs.
type Scheduler interface {
	AddJob(name, schedule, message, channel, chatID string) (string, error)
	ListJobs() []ScheduledJob
	RemoveJob(id string) bool
}

// ScheduledJob describes one scheduled prompt.
type ScheduledJob struct {
	ID       string
	Name     string
	Schedule string
	Message  string
}

// CronTool lets the model schedule prompts to itself.
type CronTool struct {
	scheduler Scheduler

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewCronTool(s Scheduler) *CronTool {
	return &CronTool{scheduler: s}
}

func (t *CronTool) SetContext(channel, chatID, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Schedule recurring prompts with cron expressions. Actions: add, list, remove."
}
func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "What to do",
				"enum":        []string{"add", "list", "remove"},
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Job name (add)",
			},
			"schedule": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression, e.g. '0 8 * * *' (add)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Prompt delivered when the job fires (add)",
			},
			"job_id": map[string]interface{}{
				"type":        "string",
				"description": "Job to remove (remove)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.scheduler == nil {
		return ErrorResult("scheduler not available")
	}

	switch argString(args, "action") {
	case "add":
		return t.add(args)
	case "list":
		return t.list()
	case "remove":
		return t.remove(args)
	default:
		return ErrorResult("unknown action: %s", argString(args, "action"))
	}
}

func (t *CronTool) add(args map[string]interface{}) *Result {
	schedule := argString(args, "schedule")
	message := argString(args, "message")
	if schedule == "" || message == "" {
		return ErrorResult("schedule and message are required for add")
	}
	name := argString(args, "name")
	if name == "" {
		name = truncate(message, 40)
	}

	t.mu.Lock()
	channel := t.channel
	chatID := t.chatID
	t.mu.Unlock()

	id, err := t.scheduler.AddJob(name, schedule, message, channel, chatID)
	if err != nil {
		return ErrorResult("Error scheduling job: %v", err)
	}
	return NewResult(fmt.Sprintf("Scheduled job %s (%s): %s", id, name, schedule))
}

func (t *CronTool) list() *Result {
	jobs := t.scheduler.ListJobs()
	if len(jobs) == 0 {
		return NewResult("No scheduled jobs.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scheduled jobs (%d):\n", len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(&sb, "- %s [%s] %s: %s\n", j.ID, j.Schedule, j.Name, truncate(j.Message, 60))
	}
	return NewResult(sb.String())
}

func (t *CronTool) remove(args map[string]interface{}) *Result {
	id := argString(args, "job_id")
	if id == "" {
		return ErrorResult("job_id is required for remove")
	}
	if !t.scheduler.RemoveJob(id) {
		return ErrorResult("job not found: %s", id)
	}
	return NewResult(fmt.Sprintf("Removed job %s", id))
}
