package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/reflection"
)

const (
	proposeTemperature = 0.2
	proposeMaxTokens   = 1024
	insertTemperature  = 0.2
	insertMaxTokens    = 4096

	defaultMaxFileLines = 500
	archiveKeepRatio    = 0.8
	archiveStampLayout  = "20060102_150405"
)

// ModelCaller is the slice of the provider registry the promoter needs.
type ModelCaller interface {
	ModelForJob(job string) (string, bool)
	Chat(ctx context.Context, model string, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// EditProposal is one proposed change to a bootstrap file.
type EditProposal struct {
	TargetFile     string
	Section        string
	Content        string
	Reason         string
	ReflectionType string
	Confidence     *float64
}

// Validate returns human-readable problems, empty when the proposal is sound.
func (p *EditProposal) Validate() []string {
	var errs []string
	if _, ok := DefaultSections[p.TargetFile]; !ok {
		errs = append(errs, fmt.Sprintf("Invalid target file: %s", p.TargetFile))
	}
	if strings.TrimSpace(p.Content) == "" {
		errs = append(errs, "Content is required")
	}
	if strings.TrimSpace(p.Reason) == "" {
		errs = append(errs, "Reason is required")
	}
	return errs
}

// Promoter turns reflection candidates into edits to the agent's bootstrap
// files. This is the self-improvement loop: the model reviews what went
// wrong in a session and amends its own standing instructions.
type Promoter struct {
	workspace    string
	models       ModelCaller
	targetFiles  []string
	maxFileLines int
	smartInsert  bool
	notify       func(message string)

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewPromoter builds a Promoter for the workspace. Target files and the line
// cap come from cfg; zero values fall back to the four persona files and 500
// lines.
func NewPromoter(models ModelCaller, workspace string, cfg config.ReflectionConfig) *Promoter {
	targets := cfg.TargetFiles
	if len(targets) == 0 {
		targets = append([]string{}, PersonaFiles...)
	}
	maxLines := cfg.MaxFileLines
	if maxLines <= 0 {
		maxLines = defaultMaxFileLines
	}
	return &Promoter{
		workspace:    workspace,
		models:       models,
		targetFiles:  targets,
		maxFileLines: maxLines,
		smartInsert:  cfg.SmartInsert,
		locks:        make(map[string]*sync.Mutex),
	}
}

// SetNotify registers the callback that receives self-improvement notices.
func (p *Promoter) SetNotify(fn func(message string)) {
	p.notify = fn
}

// Promote runs the full pipeline: propose edits from the reflections, apply
// them, and notify when anything changed. Returns target file to the reasons
// of the edits applied to it. Failures are logged, never fatal.
func (p *Promoter) Promote(ctx context.Context, candidates []*reflection.Candidate) map[string][]string {
	if len(candidates) == 0 {
		return map[string][]string{}
	}

	proposals, err := p.ProposeEdits(ctx, candidates)
	if err != nil {
		slog.Warn("bootstrap promotion failed", "error", err)
		return map[string][]string{}
	}

	applied := p.ApplyEdits(ctx, proposals)
	if len(applied) == 0 {
		slog.Debug("no bootstrap edits applied", "reflections", len(candidates))
		return applied
	}

	files := make([]string, 0, len(applied))
	for f := range applied {
		files = append(files, f)
	}
	sort.Strings(files)
	slog.Info("bootstrap promotion complete", "files", files)

	if p.notify != nil {
		p.notify(fmt.Sprintf("🧠 Self-Improvement: updated %s based on session reflections", strings.Join(files, ", ")))
	}
	return applied
}

// ProposeEdits asks the model which bootstrap files the reflections should
// amend. Proposals for files outside the configured target list are dropped.
func (p *Promoter) ProposeEdits(ctx context.Context, candidates []*reflection.Candidate) ([]*EditProposal, error) {
	model, ok := p.models.ModelForJob(config.JobReflection)
	if !ok {
		return nil, errors.New("no model available for reflection promotion")
	}

	resp, err := p.models.Chat(ctx, model, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: buildProposePrompt(candidates, p.targetFiles)}},
		Options: map[string]interface{}{
			providers.OptTemperature: proposeTemperature,
			providers.OptMaxTokens:   proposeMaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("proposal model call: %w", err)
	}

	raw, err := parseEdits(providers.StripThinking(resp.Content))
	if err != nil {
		slog.Warn("edit proposal response unparseable", "error", err)
		return nil, nil
	}

	var proposals []*EditProposal
	for _, m := range raw {
		prop, err := decodeProposal(m)
		if err != nil {
			slog.Warn("skipping malformed edit proposal", "error", err)
			continue
		}
		if !contains(p.targetFiles, prop.TargetFile) {
			slog.Debug("dropping edit for non-target file", "file", prop.TargetFile)
			continue
		}
		if problems := prop.Validate(); len(problems) > 0 {
			slog.Warn("skipping invalid edit proposal",
				"file", prop.TargetFile,
				"problems", strings.Join(problems, "; "))
			continue
		}
		proposals = append(proposals, prop)
	}
	return proposals, nil
}

// ApplyEdits writes the proposals into their bootstrap files and returns
// target file to applied edit reasons. A failing edit is logged and skipped.
func (p *Promoter) ApplyEdits(ctx context.Context, proposals []*EditProposal) map[string][]string {
	applied := make(map[string][]string)
	for _, prop := range proposals {
		if err := p.applyEdit(ctx, prop); err != nil {
			slog.Warn("bootstrap edit failed", "file", prop.TargetFile, "error", err)
			continue
		}
		applied[prop.TargetFile] = append(applied[prop.TargetFile], prop.Reason)
	}
	return applied
}

func (p *Promoter) applyEdit(ctx context.Context, prop *EditProposal) error {
	mu := p.fileLock(prop.TargetFile)
	mu.Lock()
	defer mu.Unlock()

	// The canonical per-file section wins over whatever the model proposed,
	// so promoted edits always land in one predictable place.
	section := DefaultSections[prop.TargetFile]
	if section == "" {
		section = prop.Section
	}

	path := filepath.Join(p.workspace, prop.TargetFile)
	old, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", prop.TargetFile, err)
	}

	var updated string
	if p.smartInsert {
		updated = p.smartInsertEdit(ctx, string(old), prop, section)
	}
	if updated == "" {
		updated = AppendToSection(string(old), section, prop.Content)
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", prop.TargetFile, err)
	}
	p.archiveIfOversized(prop.TargetFile, path)
	return nil
}

// smartInsertEdit asks the model to weave the edit into the file itself.
// Returns "" when the call fails or the answer is empty, which sends the
// caller down the deterministic append path.
func (p *Promoter) smartInsertEdit(ctx context.Context, old string, prop *EditProposal, section string) string {
	model, ok := p.models.ModelForJob(config.JobReflection)
	if !ok {
		return ""
	}

	prompt := fmt.Sprintf(`Update this agent instruction file by integrating a new instruction where it fits best.

Current content of %s:
---
%s
---

New instruction (from a %s reflection):
%s

Preferred section: %s

Return the complete updated file content and nothing else.`,
		prop.TargetFile, old, prop.ReflectionType, prop.Content, section)

	resp, err := p.models.Chat(ctx, model, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options: map[string]interface{}{
			providers.OptTemperature: insertTemperature,
			providers.OptMaxTokens:   insertMaxTokens,
		},
	})
	if err != nil {
		slog.Warn("smart insert failed, falling back to append", "file", prop.TargetFile, "error", err)
		return ""
	}

	out := stripCodeFence(strings.TrimSpace(providers.StripThinking(resp.Content)))
	if strings.TrimSpace(out) == "" {
		return ""
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

// archiveIfOversized copies an over-long bootstrap file aside and keeps only
// its tail, so promoted edits never grow a file without bound. The newest
// guidance lives at the bottom, which is the part the trim preserves.
func (p *Promoter) archiveIfOversized(name, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) <= p.maxFileLines {
		return
	}

	stamp := time.Now().UTC().Format(archiveStampLayout)
	archivePath := path + ".archived." + stamp
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		slog.Warn("failed to archive bootstrap file", "file", name, "error", err)
		return
	}

	keep := int(archiveKeepRatio * float64(p.maxFileLines))
	trimmed := strings.Join(lines[len(lines)-keep:], "\n")
	if err := os.WriteFile(path, []byte(trimmed), 0o644); err != nil {
		slog.Warn("failed to trim bootstrap file", "file", name, "error", err)
		return
	}
	slog.Info("archived oversized bootstrap file",
		"file", name,
		"archive", filepath.Base(archivePath),
		"kept_lines", keep)
}

func (p *Promoter) fileLock(name string) *sync.Mutex {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()
	mu, ok := p.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		p.locks[name] = mu
	}
	return mu
}

var targetDescriptions = map[string]string{
	AgentsFile:   "working agreements and behavior rules",
	SoulFile:     "temperament and tone",
	IdentityFile: "identity and owner context",
	ToolsFile:    "tool usage guidance",
}

func buildProposePrompt(candidates []*reflection.Candidate, targets []string) string {
	var b strings.Builder
	b.WriteString("Based on these reflections about the agent's recent behavior, propose edits to the agent's instruction files.\n\nReflections:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. [%s] %s\n   %s\n", i+1, c.Type, c.Title, c.Content)
		if c.Suggestion != "" {
			fmt.Fprintf(&b, "   Suggestion: %s\n", c.Suggestion)
		}
	}
	b.WriteString("\nTarget files:\n")
	for _, t := range targets {
		desc := targetDescriptions[t]
		if desc == "" {
			desc = "agent instructions"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t, desc)
	}
	b.WriteString(`
Return a JSON object with an "edits" array.
Each edit must have: target_file, content, reason.
Optional: section, reflection_type, confidence (0-1).
Only propose an edit when a reflection shows a clear, durable improvement to how the agent should work.
Return {"edits": []} when nothing qualifies.`)
	return b.String()
}

// parseEdits pulls the outermost JSON object out of a model response and
// decodes its "edits" array. Same tolerance as candidate distillation:
// strict JSON first, JSON5 for trailing commas and friends.
func parseEdits(content string) ([]map[string]interface{}, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return nil, errors.New("no JSON object in response")
	}
	blob := content[start : end+1]

	var parsed struct {
		Edits []map[string]interface{} `json:"edits"`
	}
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		if err5 := json5.Unmarshal([]byte(blob), &parsed); err5 != nil {
			return nil, fmt.Errorf("response is not valid JSON: %w", err)
		}
	}
	return parsed.Edits, nil
}

func decodeProposal(m map[string]interface{}) (*EditProposal, error) {
	prop := &EditProposal{
		TargetFile:     strings.TrimSpace(stringField(m, "target_file")),
		Section:        strings.TrimSpace(stringField(m, "section")),
		Content:        stringField(m, "content"),
		Reason:         stringField(m, "reason"),
		ReflectionType: stringField(m, "reflection_type"),
	}
	if prop.TargetFile == "" {
		return nil, errors.New("edit target_file is required")
	}
	conf, err := floatField(m, "confidence")
	if err != nil {
		return nil, err
	}
	prop.Confidence = conf
	return prop, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &f, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s
	if i := strings.Index(rest, "\n"); i >= 0 {
		rest = rest[i+1:]
	} else {
		return s
	}
	rest = strings.TrimSuffix(strings.TrimRight(rest, "\n"), "```")
	return strings.TrimRight(rest, "\n")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
