package process

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/memory"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/status"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// Default per-spec tuning constants (spec.md §4.3, §2 "implementation budget").
const (
	DefaultChannelMaxTurns = 5
	// Compaction trigger tiers over used/window ratio (spec.md §4.3 table).
	compactionBackgroundRatio = 0.80
	compactionUrgentRatio     = 0.85
	compactionEmergencyRatio  = 0.95
	defaultContextWindow      = 128_000
)

// Compactor is the subset of the Compactor process a Channel needs: run a
// background or urgent summarisation over a turn range.
type Compactor interface {
	Compact(ctx context.Context, channelID string, from, to int64) (*domain.CompactionSummary, error)
}

// Channel owns the user-visible dialog for one conversation. One inbound
// message becomes one outbound reply; it never blocks on Branches or
// Workers it spawns (spec.md §4.3), grounded on pkg/engine/runner.go's
// retry/timeout loop generalized into an inbound message loop.
type Channel struct {
	ID             domain.ProcessID
	ConversationID string
	SystemPrompt   string
	MaxTurns       int
	ContextWindow  int

	store      storage.Store
	memory     MemoryHub
	router     *llm.Router
	supervisor SupervisorHandle
	compactor  Compactor
	bus        *eventbus.AgentBus
	breakers   *ToolBreakers
	statusBlk  *status.Block
	metrics    *metrics.Manager
	log        logger.Logger

	inbound  chan domain.InboundMessage
	outbound chan domain.OutboundResponse
	statusCh chan domain.StatusUpdate

	// historyMu guards history and compacting: the background compaction
	// goroutine runCompaction spawns (maybeCompact) runs concurrently with
	// whatever Run's single-threaded loop does next, and both read/mutate
	// history.
	historyMu  sync.Mutex
	history    []*domain.ConversationTurn
	compacting bool

	spawnBranchFn func(description, taskContext string, maxTurns int) (BranchHandle, error)
	spawnWorkerFn func(task, taskType string, interactive bool, maxTurns int, tools []string) (WorkerHandle, error)
}

// ChannelConfig bundles a Channel's fixed collaborators at construction.
type ChannelConfig struct {
	AgentID        string
	ConversationID string
	SystemPrompt   string
	Store          storage.Store
	Memory         MemoryHub
	Router         *llm.Router
	Supervisor     SupervisorHandle
	Compactor      Compactor
	Bus            *eventbus.AgentBus
	Metrics        *metrics.Manager
	Logger         logger.Logger
}

func NewChannel(cfg ChannelConfig) *Channel {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Channel{
		ID:             domain.ProcessID{ID: uuid.New().String(), Kind: domain.ProcessChannel, AgentID: cfg.AgentID, ConversationID: cfg.ConversationID},
		ConversationID: cfg.ConversationID,
		SystemPrompt:   cfg.SystemPrompt,
		MaxTurns:       DefaultChannelMaxTurns,
		ContextWindow:  defaultContextWindow,
		store:          cfg.Store,
		memory:         cfg.Memory,
		router:         cfg.Router,
		supervisor:     cfg.Supervisor,
		compactor:      cfg.Compactor,
		bus:            cfg.Bus,
		breakers:       NewToolBreakers(),
		statusBlk:      status.NewBlock(status.DefaultMaxEntries, status.DefaultMaxAge),
		metrics:        cfg.Metrics,
		log:            log,
		inbound:        make(chan domain.InboundMessage, 256), // bounded, spec.md §5 default
		outbound:       make(chan domain.OutboundResponse, 32),
		statusCh:       make(chan domain.StatusUpdate, 32),
	}
}

// Outbound returns the channel's outbound fragment stream for an adapter to
// drain.
func (c *Channel) Outbound() <-chan domain.OutboundResponse { return c.outbound }

// Inbound returns the send half an adapter or binding router delivers
// InboundMessages on. A full queue signals back-pressure to the caller
// rather than blocking silently, per spec.md §5.
func (c *Channel) Inbound() chan<- domain.InboundMessage { return c.inbound }

// Submit is a non-blocking enqueue; it reports whether the bounded inbound
// queue accepted the message.
func (c *Channel) Submit(msg domain.InboundMessage) bool {
	select {
	case c.inbound <- msg:
		return true
	default:
		return false
	}
}

// Hydrate loads prior turns from the structured store so a restarted Channel
// resumes with identical in-memory history (spec.md §8 round-trip property).
func (c *Channel) Hydrate(ctx context.Context) error {
	turns, err := c.store.ListTurns(ctx, c.ConversationID, 0, -1)
	if err != nil {
		return fmt.Errorf("channel: hydrate: %w", err)
	}
	c.historyMu.Lock()
	c.history = turns
	c.historyMu.Unlock()
	return nil
}

// Run drives the strictly-ordered inbound loop until ctx is cancelled:
// message n's reply is fully emitted before message n+1 begins processing
// (spec.md §5 "Ordering").
func (c *Channel) Run(ctx context.Context) {
	c.metrics.RecordProcessSpawn("channel")
	events := c.subscribeEvents()
	for {
		select {
		case <-ctx.Done():
			c.metrics.RecordProcessExit("channel", "cancelled")
			close(c.outbound)
			return
		case msg := <-c.inbound:
			if err := c.handleInbound(ctx, msg); err != nil {
				c.log.Error("channel: inbound handling failed", "conversation_id", c.ConversationID, "error", err)
				c.emitFailureReply(ctx, err)
			}
		case ev := <-events:
			c.handleProcessEvent(ev)
		}
	}
}

// subscribeEvents fans in the agent bus once for this Channel's lifetime; a
// nil bus yields a nil channel, which blocks forever in the select above and
// is harmless.
func (c *Channel) subscribeEvents() <-chan eventbus.ProcessEvent {
	if c.bus == nil {
		return nil
	}
	sub, err := c.bus.Subscribe(16)
	if err != nil {
		return nil
	}
	return sub.C()
}

// handleProcessEvent injects a BranchResult as an assistant-visible system
// note on the next turn, and surfaces Worker progress through the status
// block (spec.md §4.3 "Non-blocking composition").
func (c *Channel) handleProcessEvent(ev eventbus.ProcessEvent) {
	switch ev.Kind {
	case eventbus.EventBranchResult:
		c.statusBlk.Appendf("branch %s concluded: %s", ev.Process.ID, ev.Result)
	case eventbus.EventWorkerCompleted:
		c.statusBlk.Appendf("worker %s completed: %s", ev.Process.ID, ev.Result)
	case eventbus.EventToolStarted, eventbus.EventToolCompleted:
		c.statusBlk.Appendf("%s: %s", ev.Kind, ev.ToolName)
	}
}

func (c *Channel) emitFailureReply(ctx context.Context, err error) {
	select {
	case c.outbound <- domain.OutboundResponse{Kind: domain.OutboundText, Text: "Sorry, something went wrong handling that message."}:
	case <-ctx.Done():
	}
}

// handleInbound implements spec.md §4.3's six-step inbound loop.
func (c *Channel) handleInbound(ctx context.Context, msg domain.InboundMessage) error {
	firstSeen, err := c.store.MarkInboundSeen(ctx, msg.Source, msg.ID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !firstSeen {
		return nil // spec.md §8: duplicate delivery processed exactly once
	}

	seq, err := c.store.NextSequence(ctx, c.ConversationID)
	if err != nil {
		return fmt.Errorf("sequence allocation: %w", err)
	}
	turn := &domain.ConversationTurn{ChannelID: c.ConversationID, Sequence: seq, Inbound: inboundText(msg)}
	c.historyMu.Lock()
	c.history = append(c.history, turn)
	c.historyMu.Unlock()

	messages := c.buildContext(ctx, msg)
	model := c.router.Resolve(ctx, llm.ResolveOptions{ProcessKind: domain.ProcessChannel, UserMessage: inboundText(msg)})
	tools := c.toolSet()

	if err := c.runLoop(ctx, model, messages, tools); err != nil {
		return err
	}

	turn.Outbound = "sent" // finalized marker; actual text already streamed via reply tool
	if err := c.store.SaveTurn(ctx, turn); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}

	c.maybeCompact(ctx)
	return nil
}

func inboundText(msg domain.InboundMessage) string {
	if msg.Content.Kind == domain.ContentText {
		return msg.Content.Text
	}
	return msg.Content.Text // caption only; attachments are not inlined into the prompt text
}

func (c *Channel) buildContext(ctx context.Context, msg domain.InboundMessage) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: c.SystemPrompt}}
	if rendered := c.statusBlk.Render(); rendered != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: rendered})
	}
	if mems, err := c.memory.Search(ctx, inboundText(msg), nil, memory.SearchOptions{K: 5, ChannelScope: c.ConversationID, ImportanceMin: 0.7}); err == nil && len(mems) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: formatMemories(mems)})
	}
	c.historyMu.Lock()
	history := make([]*domain.ConversationTurn, len(c.history))
	copy(history, c.history)
	c.historyMu.Unlock()
	for _, t := range history {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.Inbound})
		if t.Outbound != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: t.Outbound})
		}
	}
	return messages
}

// Messages exposes the channel's history as a read-only llm.Message fork,
// for the agent host to hand to a newly spawned Branch (spec.md §4.4).
func (c *Channel) Messages() []llm.Message {
	c.historyMu.Lock()
	history := make([]*domain.ConversationTurn, len(c.history))
	copy(history, c.history)
	c.historyMu.Unlock()

	messages := make([]llm.Message, 0, len(history)*2)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.Inbound})
		if t.Outbound != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: t.Outbound})
		}
	}
	return messages
}

func (c *Channel) toolSet() []Tool {
	return []Tool{
		&ReplyTool{Outbound: c.outbound},
		&BranchTool{Spawn: c.spawnBranch},
		&SpawnWorkerTool{Spawn: c.spawnWorker},
		&RouteTool{Supervisor: c.supervisor},
		&CancelTool{Supervisor: c.supervisor},
		&MemorySaveTool{Memory: c.memory, ChannelID: c.ConversationID},
		&MemoryRecallTool{Memory: c.memory, ChannelID: c.ConversationID},
		&SkipTool{},
		&ReactTool{Status: c.statusCh},
		&SetStatusTool{Append: c.statusBlk.Append},
	}
}

// spawnBranch and spawnWorker delegate to the agent host's concrete
// Branch/Worker constructors once wired via SetSpawners; a Channel has no
// direct dependency on those constructors to avoid an import cycle (the
// supervisor that constructs them also receives this Channel's tool set).
func (c *Channel) spawnBranch(description, taskContext string, maxTurns int) (BranchHandle, error) {
	if c.spawnBranchFn != nil {
		return c.spawnBranchFn(description, taskContext, maxTurns)
	}
	return BranchHandle{ID: uuid.New().String()}, nil
}

func (c *Channel) spawnWorker(task, taskType string, interactive bool, maxTurns int, tools []string) (WorkerHandle, error) {
	if c.spawnWorkerFn != nil {
		return c.spawnWorkerFn(task, taskType, interactive, maxTurns, tools)
	}
	return WorkerHandle{ID: uuid.New().String(), TaskType: taskType, Interactive: interactive}, nil
}

// SetSpawners lets the agent host replace the default no-op spawn callbacks
// with real Branch/Worker construction once all processes exist.
func (c *Channel) SetSpawners(branch func(string, string, int) (BranchHandle, error), worker func(string, string, bool, int, []string) (WorkerHandle, error)) {
	c.spawnBranchFn, c.spawnWorkerFn = branch, worker
}

func (c *Channel) runLoop(ctx context.Context, model string, messages []llm.Message, tools []Tool) error {
	specs := make([]llm.ToolSpec, len(tools))
	byName := make(map[string]Tool, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
		byName[t.Spec().Name] = t
	}

	for turn := 0; turn < c.MaxTurns; turn++ {
		resp, err := c.router.Call(ctx, model, llm.Request{Model: model, Messages: messages, Tools: specs})
		if err != nil {
			return fmt.Errorf("llm call: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				c.outbound <- domain.OutboundResponse{Kind: domain.OutboundText, Text: resp.Content}
			}
			return nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		for _, tc := range resp.ToolCalls {
			tool, ok := byName[tc.Name]
			if !ok {
				messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: fmt.Sprintf("unknown tool %q", tc.Name)})
				continue
			}
			result, err := c.breakers.Call(ctx, tc.Name, func(ctx context.Context) (string, error) {
				return tool.Call(ctx, json.RawMessage(tc.Arguments))
			})
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: result})
			if tc.Name == "reply" {
				return nil // reply tool already emitted the outbound fragment
			}
		}
	}
	return nil // max-turns reached: a completion, not an error (spec.md §7)
}

// maybeCompact applies the tiered compaction policy (spec.md §4.3 table).
// The compacting guard is claimed here, synchronously, before the
// background goroutine is ever launched: claiming it inside runCompaction
// itself would leave a window where Run's next handleInbound call still
// sees compacting == false and launches a second, concurrent compaction.
func (c *Channel) maybeCompact(ctx context.Context) {
	c.historyMu.Lock()
	if c.compacting || c.compactor == nil || len(c.history) == 0 {
		c.historyMu.Unlock()
		return
	}
	ratio := usedTokenRatio(c.history, c.ContextWindow)
	switch {
	case ratio >= compactionEmergencyRatio:
		c.historyMu.Unlock()
		c.emergencyTruncate()
	case ratio >= compactionUrgentRatio, ratio >= compactionBackgroundRatio:
		c.compacting = true
		c.historyMu.Unlock()
		go c.runCompaction(ctx)
	default:
		c.historyMu.Unlock()
	}
}

func usedTokenRatio(history []*domain.ConversationTurn, window int) float64 {
	if window <= 0 {
		return 0
	}
	chars := 0
	for _, t := range history {
		chars += len(t.Inbound) + len(t.Outbound)
	}
	approxTokens := chars / 4
	return float64(approxTokens) / float64(window)
}

// emergencyTruncate drops oldest non-summary turns without invoking the LLM
// (spec.md §4.3 "emergency truncate").
func (c *Channel) emergencyTruncate() {
	const retentionFloor = 20
	c.historyMu.Lock()
	if len(c.history) <= retentionFloor {
		c.historyMu.Unlock()
		return
	}
	c.history = c.history[len(c.history)-retentionFloor:]
	c.historyMu.Unlock()
	c.log.Warn("channel: emergency truncation", "conversation_id", c.ConversationID, "kept", retentionFloor)
}

// runCompaction hands a turn range to the Compactor process and atomically
// swaps the result into in-memory history when it returns, while the
// Channel keeps serving inbound messages (spec.md §4.3). maybeCompact has
// already claimed c.compacting before this goroutine was started; this
// only needs to release it.
func (c *Channel) runCompaction(ctx context.Context) {
	defer func() {
		c.historyMu.Lock()
		c.compacting = false
		c.historyMu.Unlock()
	}()

	c.historyMu.Lock()
	if len(c.history) < 2 {
		c.historyMu.Unlock()
		return
	}
	half := len(c.history) / 2
	from, to := c.history[0].Sequence, c.history[half].Sequence
	remaining := make([]*domain.ConversationTurn, len(c.history[half+1:]))
	copy(remaining, c.history[half+1:])
	c.historyMu.Unlock()

	summary, err := c.compactor.Compact(ctx, c.ConversationID, from, to)
	if err != nil {
		c.log.Error("channel: compaction failed", "conversation_id", c.ConversationID, "error", err)
		return
	}

	summarized := &domain.ConversationTurn{ChannelID: c.ConversationID, Sequence: summary.StartSequence, Inbound: "(compacted)", Outbound: summary.Summary}

	c.historyMu.Lock()
	c.history = append([]*domain.ConversationTurn{summarized}, remaining...)
	c.historyMu.Unlock()
}
