package process

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// summaryPrompt instructs the cheap-tier model on what a compaction summary
// must preserve (spec.md §4.6): identity cues, decisions, open TODOs, and
// references to tool calls a later turn might still need to resolve.
const summaryPrompt = `Summarize the following conversation turns into a compact paragraph the agent can use as context going forward. Preserve:
- who the participants are and any stated identity or preference facts
- decisions that were made and why
- open TODOs or unresolved questions
- references to tool calls and their outcomes, by name

Do not include filler or restate the instructions. Write the summary itself, nothing else.`

// AgentCompactor replaces a contiguous range of a Channel's turns with a
// single prose summary, using the LLM router's cheap-tier model (spec.md
// §4.6), grounded on pkg/engine/scheduler.go's layer-boundary cadence shape
// generalized to a ratio-triggered rather than time-triggered cadence, and
// the router's existing per-process-kind model defaulting.
type AgentCompactor struct {
	Store  storage.Store
	Router *llm.Router
	Log    logger.Logger
}

func NewAgentCompactor(store storage.Store, router *llm.Router, log logger.Logger) *AgentCompactor {
	if log == nil {
		log = logger.Global()
	}
	return &AgentCompactor{Store: store, Router: router, Log: log}
}

// Compact archives turns [from,to] for channelID and returns a summary
// covering them. The raw turns are archived (storage.Store.ArchiveAndRemoveTurns)
// before the caller swaps its in-memory history, so a crash mid-compaction
// never loses a turn that was neither archived nor summarized.
func (c *AgentCompactor) Compact(ctx context.Context, channelID string, from, to int64) (*domain.CompactionSummary, error) {
	turns, err := c.Store.ListTurns(ctx, channelID, from, to)
	if err != nil {
		return nil, fmt.Errorf("compactor: list turns: %w", err)
	}
	if len(turns) == 0 {
		return &domain.CompactionSummary{ChannelID: channelID, StartSequence: from, EndSequence: to, Summary: "(no turns in range)", CreatedAt: time.Now()}, nil
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "user: %s\n", t.Inbound)
		if t.Outbound != "" {
			fmt.Fprintf(&transcript, "assistant: %s\n", t.Outbound)
		}
	}

	model := c.Router.Resolve(ctx, llm.ResolveOptions{ProcessKind: domain.ProcessCompactor})
	resp, err := c.Router.Call(ctx, model, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: transcript.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("compactor: summarize: %w", err)
	}

	summary := &domain.CompactionSummary{
		ChannelID:     channelID,
		StartSequence: from,
		EndSequence:   to,
		Summary:       resp.Content,
		CreatedAt:     time.Now(),
	}

	if err := c.Store.ArchiveAndRemoveTurns(ctx, storage.TurnRange{ChannelID: channelID, Start: from, End: to}); err != nil {
		return nil, fmt.Errorf("compactor: archive: %w", err)
	}
	if err := c.Store.SaveCompactionSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("compactor: save summary: %w", err)
	}

	c.Log.Info("compacted channel turns", "channel_id", channelID, "from", from, "to", to, "turns", len(turns))
	return summary, nil
}
