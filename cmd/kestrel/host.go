package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-run/kestrel/config"
	"github.com/kestrel-run/kestrel/pkg/adapter"
	"github.com/kestrel-run/kestrel/pkg/cron"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/hook"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/memory"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/process"
	"github.com/kestrel-run/kestrel/pkg/secrets"
	"github.com/kestrel-run/kestrel/pkg/storage"
	"github.com/kestrel-run/kestrel/pkg/storage/badger"
	storagemem "github.com/kestrel-run/kestrel/pkg/storage/memory"
	sqlstore "github.com/kestrel-run/kestrel/pkg/storage/sql"
	sqlitestore "github.com/kestrel-run/kestrel/pkg/storage/sqlite"
	"github.com/kestrel-run/kestrel/pkg/supervisor"
)

// AgentHost owns one agent's entire process tree: its structured store,
// memory hub, event bus, supervisor, Cortex, and the live Channel set
// keyed by conversation id. One host per config.AgentConfig, the way the
// teacher runs one engine per process but generalized to one host per
// configured agent identity (spec.md §2's component list, §3 "Agent").
type AgentHost struct {
	ID   string
	cfg  config.AgentConfig
	log  logger.Logger

	store     storage.Store
	memoryHub *memory.MemoryHub
	router    *llm.Router
	bus       *eventbus.AgentBus
	sup       *supervisor.Supervisor
	metrics   *metrics.Manager
	promptHk  *hook.PromptHook
	cortex    *process.Cortex
	compactor *process.AgentCompactor
	secretsSt *secrets.Store
	cronStore *cron.Store
	scheduler *cron.Scheduler

	mu       sync.Mutex
	channels map[string]*process.Channel
	stopped  atomic.Bool
}

// NewAgentHost wires one agent's collaborators from configuration. store is
// already open and owned by the caller; router and log are shared across
// every agent on this process.
func NewAgentHost(cfg config.AgentConfig, globalCfg *config.Config, store storage.Store, router *llm.Router, metricsMgr *metrics.Manager, log logger.Logger) (*AgentHost, error) {
	log = log.With("agent_id", cfg.ID)

	var embedder memory.Embedder
	if oaiCfg, ok := globalCfg.LLM.Providers["openai"]; ok {
		if apiKey := os.Getenv(oaiCfg.APIKeyEnv); apiKey != "" {
			embedder = memory.NewOpenAIEmbedder(apiKey, openai.EmbeddingModel("text-embedding-3-small"), globalCfg.Memory.VectorDimension)
		}
	}

	memCfg := globalCfg.Memory
	hub, err := memory.NewMemoryHub(&memCfg, store, embedder, log)
	if err != nil {
		return nil, fmt.Errorf("agent %s: building memory hub: %w", cfg.ID, err)
	}
	hub.SetMetrics(metricsMgr)

	bus := eventbus.NewAgentBus(cfg.ID)

	maxBranches := cfg.MaxConcurrentBranches
	if maxBranches <= 0 {
		maxBranches = supervisor.DefaultMaxConcurrentBranches
	}
	sup := supervisor.New(maxBranches, log)

	h := &AgentHost{
		ID:        cfg.ID,
		cfg:       cfg,
		log:       log,
		store:     store,
		memoryHub: hub,
		router:    router,
		bus:       bus,
		sup:       sup,
		metrics:   metricsMgr,
		promptHk:  hook.New(bus, log),
		compactor: process.NewAgentCompactor(store, router, log),
		cronStore: cron.NewStore(store),
		channels:  make(map[string]*process.Channel),
	}

	h.cortex = process.NewCortex(process.CortexConfig{
		AgentID: cfg.ID,
		Cadence: cfg.CortexCadence,
		Memory:  hub,
		Bus:     bus,
		Metrics: metricsMgr,
		Logger:  log,
	})

	if secretsPath := cfg.DataDir; secretsPath != "" {
		masterKey := loadOrGenerateSecretsKey(filepath.Join(secretsPath, "secrets.key"))
		st, err := secrets.Open(filepath.Join(secretsPath, "secrets.db"), masterKey)
		if err != nil {
			return nil, fmt.Errorf("agent %s: opening secrets store: %w", cfg.ID, err)
		}
		h.secretsSt = st
	}

	tick := cfg.CronTickEvery
	if tick <= 0 {
		tick = time.Minute
	}
	h.scheduler = cron.NewScheduler(h.cronStore, h.deliverHeartbeat, bus, cfg.ID, tick, log)

	return h, nil
}

// Start launches this agent's background loops: the memory maintenance
// cycle, Cortex's observation buffer, the supervisor's auto-reap watch, and
// the cron heartbeat scheduler.
func (h *AgentHost) Start(ctx context.Context) error {
	if err := h.memoryHub.Start(ctx); err != nil {
		return fmt.Errorf("agent %s: starting memory hub: %w", h.ID, err)
	}
	if err := h.cortex.Start(ctx); err != nil {
		return fmt.Errorf("agent %s: starting cortex: %w", h.ID, err)
	}
	go func() {
		if err := h.sup.WatchBus(ctx, h.bus); err != nil {
			h.log.Warn("supervisor bus watch ended", "error", err)
		}
	}()
	h.scheduler.Start(ctx)
	return nil
}

// Memory exposes this agent's memory hub for the admin API (pkg/api).
func (h *AgentHost) Memory() *memory.MemoryHub { return h.memoryHub }

// Status reports a snapshot of this agent's running process tree, for the
// admin API's /status endpoint. Returns any to satisfy handlers.StatusReporter;
// the concrete value is always an AgentStatus.
func (h *AgentHost) Status() any {
	h.mu.Lock()
	channelCount := len(h.channels)
	h.mu.Unlock()
	branches, workers := h.sup.Counts()
	return AgentStatus{
		AgentID:      h.ID,
		ChannelCount: channelCount,
		BranchCount:  branches,
		WorkerCount:  workers,
	}
}

// Healthy reports whether this agent host has been stopped.
func (h *AgentHost) Healthy() bool {
	return !h.stopped.Load()
}

// AgentStatus is the admin-facing snapshot of one agent host's load.
type AgentStatus struct {
	AgentID      string `json:"agent_id"`
	ChannelCount int    `json:"channel_count"`
	BranchCount  int    `json:"branch_count"`
	WorkerCount  int    `json:"worker_count"`
}

// Stop halts background loops; live Channels keep running until the
// context their Run goroutine was started with is itself cancelled.
func (h *AgentHost) Stop(ctx context.Context) {
	h.stopped.Store(true)
	h.cortex.Stop()
	h.scheduler.Stop()
	if err := h.memoryHub.Stop(ctx); err != nil {
		h.log.Warn("memory hub stop failed", "error", err)
	}
	if h.secretsSt != nil {
		_ = h.secretsSt.Close()
	}
	if err := h.store.Close(); err != nil {
		h.log.Warn("store close failed", "error", err)
	}
}

// deliverHeartbeat routes a cron job's prompt into the target conversation
// as if it were an inbound message from the system itself (spec.md §3
// "Cron job / heartbeat").
func (h *AgentHost) deliverHeartbeat(ctx context.Context, deliveryTarget, prompt string) error {
	ch := h.Channel(ctx, deliveryTarget, nil)
	msg := domain.InboundMessage{
		ID:             fmt.Sprintf("cron:%d", time.Now().UnixNano()),
		Source:         "cron",
		ConversationID: deliveryTarget,
		SenderID:       "cron",
		Content:        domain.MessageContent{Kind: domain.ContentText, Text: prompt},
		Timestamp:      time.Now(),
	}
	if !ch.Submit(msg) {
		return fmt.Errorf("agent %s: heartbeat delivery to %q: inbound queue full", h.ID, deliveryTarget)
	}
	return nil
}

// Channel returns the live Channel for conversationID, constructing and
// starting one on first use. adp is the adapter this conversation's replies
// get pumped back to; it is only consulted on first creation.
func (h *AgentHost) Channel(ctx context.Context, conversationID string, adp adapter.Adapter) *process.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[conversationID]; ok {
		return ch
	}

	ch := process.NewChannel(process.ChannelConfig{
		AgentID:        h.ID,
		ConversationID: conversationID,
		SystemPrompt:   h.cfg.SystemPrompt,
		Store:          h.store,
		Memory:         h.memoryHub,
		Router:         h.router,
		Supervisor:     h.sup,
		Compactor:      h.compactor,
		Bus:            h.bus,
		Metrics:        h.metrics,
		Logger:         h.log,
	})
	ch.SetSpawners(h.spawnBranch(ch), h.spawnWorker(ch))

	if err := ch.Hydrate(ctx); err != nil {
		h.log.Warn("channel hydrate failed, starting empty", "conversation_id", conversationID, "error", err)
	}
	go ch.Run(ctx)
	if adp != nil {
		go h.pumpOutbound(ctx, conversationID, ch, adp)
	}

	h.channels[conversationID] = ch
	return ch
}

// spawnBranch builds the Channel callback the BranchTool invokes: it forks
// ch's history into a new Branch, runs it, and registers the handle with
// the supervisor so /route and /cancel can reach it later.
func (h *AgentHost) spawnBranch(ch *process.Channel) func(description, taskContext string, maxTurns int) (process.BranchHandle, error) {
	return func(description, taskContext string, maxTurns int) (process.BranchHandle, error) {
		b := process.NewBranch(process.BranchConfig{
			AgentID:       h.ID,
			ChannelID:     ch.ConversationID,
			Description:   description,
			TaskContext:   taskContext,
			MaxTurns:      maxTurns,
			ParentHistory: ch.Messages(),
			Memory:        h.memoryHub,
			Router:        h.router,
			Bus:           h.bus,
			Metrics:       h.metrics,
			Logger:        h.log,
		})
		runCtx, cancel := context.WithCancel(context.Background())
		result := b.Run(runCtx)
		handle := process.BranchHandle{ID: b.ID.ID, Cancel: cancel, Result: result, StartedAt: time.Now()}
		if err := h.sup.RegisterBranch(handle); err != nil {
			h.log.Warn("branch rejected by supervisor", "description", description, "error", err)
			cancel()
			return process.BranchHandle{}, err
		}
		return handle, nil
	}
}

// spawnWorker mirrors spawnBranch for the SpawnWorkerTool, retaining the
// Worker's inbound send-half in the handle so Route() can still deliver
// follow-ups after this call returns.
func (h *AgentHost) spawnWorker(ch *process.Channel) func(task, taskType string, interactive bool, maxTurns int, tools []string) (process.WorkerHandle, error) {
	return func(task, taskType string, interactive bool, maxTurns int, tools []string) (process.WorkerHandle, error) {
		w := process.NewWorker(process.WorkerConfig{
			AgentID:        h.ID,
			Task:           task,
			TaskType:       taskType,
			Interactive:    interactive,
			MaxTurns:       maxTurns,
			Memory:         h.memoryHub,
			Router:         h.router,
			Bus:            h.bus,
			Metrics:        h.metrics,
			Logger:         h.log,
			SandboxDir:     h.cfg.DataDir,
			SearchEndpoint: h.cfg.SearchEndpoint,
		})
		runCtx, cancel := context.WithCancel(context.Background())
		result := w.Run(runCtx)
		handle := process.WorkerHandle{
			ID:          w.ID.ID,
			TaskType:    taskType,
			Interactive: interactive,
			Cancel:      cancel,
			Inbound:     w.Inbound(),
			Result:      result,
			StartedAt:   time.Now(),
		}
		if err := h.sup.RegisterWorker(handle); err != nil {
			h.log.Warn("worker rejected by supervisor", "task_type", taskType, "error", err)
			cancel()
			return process.WorkerHandle{}, err
		}
		return handle, nil
	}
}

// pumpOutbound drains ch's outbound fragments to adp, scrubbing secrets out
// of every reply before it ever reaches a transport (spec.md §4.9).
func (h *AgentHost) pumpOutbound(ctx context.Context, conversationID string, ch *process.Channel, adp adapter.Adapter) {
	original := domain.InboundMessage{ConversationID: conversationID}
	for resp := range ch.Outbound() {
		scrubbed := h.promptHk.ScrubResponse(resp)
		if err := adp.Respond(ctx, original, scrubbed); err != nil {
			h.log.Warn("adapter respond failed", "conversation_id", conversationID, "error", err)
		}
	}
}

// newStoreForAgent opens the structured store backend this agent uses,
// isolated under its own data directory so agents never share rows.
func newStoreForAgent(globalCfg *config.Config, agentCfg config.AgentConfig) (storage.Store, error) {
	switch globalCfg.Storage.Type {
	case "badger":
		path := agentCfg.DataDir
		if path == "" {
			path = filepath.Join(globalCfg.Storage.Badger.Path, agentCfg.ID)
		}
		return badger.New(&badger.Config{
			Path:             path,
			SyncWrites:       globalCfg.Storage.Badger.SyncWrites,
			ValueLogFileSize: globalCfg.Storage.Badger.ValueLogFileSize,
		})
	case "mysql":
		return sqlstore.New(&sqlstore.Config{
			DSN:          globalCfg.Storage.MySQL.DSN,
			MaxOpenConns: globalCfg.Storage.MySQL.MaxOpenConns,
		})
	case "sqlite":
		path := agentCfg.DataDir
		if path == "" {
			path = globalCfg.Storage.SQLite.Path
		}
		if path != "" && path != ":memory:" {
			path = filepath.Join(path, agentCfg.ID+".db")
		}
		return sqlitestore.New(&sqlitestore.Config{Path: path})
	default:
		return storagemem.New(), nil
	}
}

// loadOrGenerateSecretsKey reads a 32-byte master key from keyPath,
// generating and persisting one on first run. Losing this file makes every
// previously sealed secret unrecoverable by design (pkg/secrets.Open never
// accepts a key of the wrong length).
func loadOrGenerateSecretsKey(keyPath string) []byte {
	if data, err := os.ReadFile(keyPath); err == nil && len(data) == 32 {
		return data
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return key // zero key; Open will still enforce length, just insecurely
	}
	_ = os.MkdirAll(filepath.Dir(keyPath), 0o700)
	_ = os.WriteFile(keyPath, key, 0o600)
	return key
}
