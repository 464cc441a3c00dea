// Package hook wraps the boundaries a process crosses on every turn — each
// tool call, and every piece of text about to leave the system — and
// observes or rewrites what passes through (spec.md §4.9).
package hook

import (
	"context"
	"regexp"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/logger"
)

// secretPattern is one named, independently-tunable leak-detection rule,
// grounded on pkg/llm/classifier.go's named-weighted-regex dimension style
// (itself grounded on the teacher's declarative validated-config
// convention), adapted here from "score a dimension" to "redact a match."
type secretPattern struct {
	name    string
	pattern *regexp.Regexp
}

// defaultSecretPatterns catches the common API-key/token/credential shapes
// spec.md §8 requires outbound bytes to be free of. Each is deliberately
// narrow: a pattern that over-matches ordinary prose erodes trust in the
// hook faster than a missed secret erodes trust in the model.
func defaultSecretPatterns() []secretPattern {
	return []secretPattern{
		{name: "openai_key", pattern: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
		{name: "aws_access_key", pattern: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{name: "bearer_token", pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{16,}`)},
		{name: "generic_api_key_assignment", pattern: regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"]?[A-Za-z0-9._-]{16,}['"]?`)},
		{name: "private_key_block", pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	}
}

// PromptHook wraps a process's tool-call boundary and outbound-text
// boundary: every tool invocation is timed and published as a ProcessEvent
// (pkg/api/middleware/logger.go's wrap-and-observe shape, generalized from
// an HTTP request to a tool call), and every outbound assistant message is
// scanned for secret-shaped substrings before it leaves the system.
type PromptHook struct {
	bus      *eventbus.AgentBus
	log      logger.Logger
	patterns []secretPattern
}

func New(bus *eventbus.AgentBus, log logger.Logger) *PromptHook {
	if log == nil {
		log = logger.Global()
	}
	return &PromptHook{bus: bus, log: log, patterns: defaultSecretPatterns()}
}

// WrapTool times a tool call, logs it, and publishes ToolStarted/ToolCompleted
// events on the agent bus, the way Recovery/Logger middleware wrap an
// http.Handler without changing its contract.
func (h *PromptHook) WrapTool(ctx context.Context, process domain.ProcessID, toolName string, call func(ctx context.Context) (string, error)) (string, error) {
	if h.bus != nil {
		h.bus.Publish(ctx, eventbus.ProcessEvent{Kind: eventbus.EventToolStarted, Process: process, ToolName: toolName})
	}
	start := time.Now()
	result, err := call(ctx)
	duration := time.Since(start)

	h.log.Debug("tool call completed", "tool", toolName, "process_id", process.ID, "duration_ms", duration.Milliseconds(), "error", err)
	if h.bus != nil {
		h.bus.Publish(ctx, eventbus.ProcessEvent{Kind: eventbus.EventToolCompleted, Process: process, ToolName: toolName, Result: truncate(result, 200), Err: errToString(err)})
	}
	return result, err
}

// Scrub redacts any secret-shaped substring from text before it is allowed
// to leave the system as an OutboundResponse (spec.md §8's "secret-leak-free
// outbound bytes" property).
func (h *PromptHook) Scrub(text string) (scrubbed string, found []string) {
	scrubbed = text
	for _, p := range h.patterns {
		if p.pattern.MatchString(scrubbed) {
			found = append(found, p.name)
			scrubbed = p.pattern.ReplaceAllString(scrubbed, "[redacted]")
		}
	}
	return scrubbed, found
}

// ScrubResponse applies Scrub to an OutboundResponse's text in place and
// logs when a redaction fires, so a leak is visible in operations even
// though it never reached the adapter.
func (h *PromptHook) ScrubResponse(resp domain.OutboundResponse) domain.OutboundResponse {
	scrubbed, found := h.Scrub(resp.Text)
	if len(found) > 0 {
		h.log.Warn("redacted suspected secret from outbound response", "patterns", found)
	}
	resp.Text = scrubbed
	return resp
}

// Nudge returns a system note to inject when the first N turns of a
// conversation contain no tool calls at all, a sign the model may be
// ignoring its available tools rather than deciding not to use them.
func Nudge(turnsWithoutTool int, threshold int) (string, bool) {
	if turnsWithoutTool < threshold {
		return "", false
	}
	return "You have tools available (reply, memory_recall, memory_save, branch, spawn_worker). Consider whether one would help before responding from memory alone.", true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
