package process

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/metrics"
)

const DefaultBranchMaxTurns = 10

// Branch forks a read-only snapshot of a Channel's history and reasons
// independently, returning a single conclusion (spec.md §4.4), grounded on
// original_source/src/tools/branch_tool.rs's fork/conclusion contract and
// pkg/engine/runner.go's retry/turn loop.
type Branch struct {
	ID          domain.ProcessID
	Description string
	MaxTurns    int

	parentHistory []llm.Message // read-only fork; never mutated
	memory        MemoryHub
	router        *llm.Router
	bus           *eventbus.AgentBus
	breakers      *ToolBreakers
	metrics       *metrics.Manager
	log           logger.Logger
}

type BranchConfig struct {
	AgentID       string
	ChannelID     string
	Description   string
	TaskContext   string
	MaxTurns      int
	ParentHistory []llm.Message
	Memory        MemoryHub
	Router        *llm.Router
	Bus           *eventbus.AgentBus
	Metrics       *metrics.Manager
	Logger        logger.Logger
}

func NewBranch(cfg BranchConfig) *Branch {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultBranchMaxTurns
	}
	history := make([]llm.Message, len(cfg.ParentHistory))
	copy(history, cfg.ParentHistory)
	if cfg.TaskContext != "" {
		history = append(history, llm.Message{Role: llm.RoleSystem, Content: cfg.TaskContext})
	}
	return &Branch{
		ID:            domain.ProcessID{ID: uuid.New().String(), Kind: domain.ProcessBranch, AgentID: cfg.AgentID, ConversationID: cfg.ChannelID},
		Description:   cfg.Description,
		MaxTurns:      maxTurns,
		parentHistory: history,
		memory:        cfg.Memory,
		router:        cfg.Router,
		bus:           cfg.Bus,
		breakers:      NewToolBreakers(),
		metrics:       cfg.Metrics,
		log:           log,
	}
}

// Run executes the branch's agent loop and publishes its outcome on the
// returned channel, then on the agent event bus as a BranchResult for the
// parent Channel to pick up asynchronously (spec.md §4.3 "Non-blocking
// composition").
func (b *Branch) Run(ctx context.Context) <-chan RunOutcome {
	out := make(chan RunOutcome, 1)
	b.metrics.RecordProcessSpawn("branch")
	go func() {
		defer close(out)
		outcome := b.runLoop(ctx)
		b.metrics.RecordProcessExit("branch", string(outcome.Kind))
		out <- outcome
		if b.bus != nil {
			b.bus.Publish(ctx, eventbus.ProcessEvent{
				Kind:    eventbus.EventBranchResult,
				Process: b.ID,
				Result:  outcome.Text,
				Err:     errString(outcome.Err),
			})
		}
	}()
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (b *Branch) runLoop(ctx context.Context) RunOutcome {
	messages := append([]llm.Message{{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf("You are a branch reasoning independently on: %s. History below is a read-only fork; reply with your conclusion as plain text when done.", b.Description),
	}}, b.parentHistory...)

	tools := []Tool{
		&MemorySaveTool{Memory: b.memory, ChannelID: b.ID.ConversationID},
		&MemoryRecallTool{Memory: b.memory, ChannelID: b.ID.ConversationID},
	}
	specs := make([]llm.ToolSpec, len(tools))
	byName := make(map[string]Tool, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
		byName[t.Spec().Name] = t
	}

	model := b.router.Resolve(ctx, llm.ResolveOptions{ProcessKind: domain.ProcessBranch, UserMessage: b.Description})

	for turn := 0; turn < b.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			return RunOutcome{Kind: OutcomeCancelled, Err: ctx.Err()}
		default:
		}

		resp, err := b.router.Call(ctx, model, llm.Request{Model: model, Messages: messages, Tools: specs})
		if err != nil {
			return RunOutcome{Kind: OutcomeFailed, Err: err}
		}
		if len(resp.ToolCalls) == 0 {
			return RunOutcome{Kind: OutcomeConcluded, Text: resp.Content}
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		for _, tc := range resp.ToolCalls {
			tool, ok := byName[tc.Name]
			if !ok {
				messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: fmt.Sprintf("unknown tool %q", tc.Name)})
				continue
			}
			result, err := b.breakers.Call(ctx, tc.Name, func(ctx context.Context) (string, error) {
				return tool.Call(ctx, json.RawMessage(tc.Arguments))
			})
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: result})
		}
	}
	return RunOutcome{Kind: OutcomeMaxTurns, Text: lastAssistantText(messages)}
}

func lastAssistantText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
