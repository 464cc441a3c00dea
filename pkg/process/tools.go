package process

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/memory"
)

// ReplyTool sends a fragment of the Channel's outbound response, grounded on
// original_source/src/tools/reply.rs.
type ReplyTool struct {
	Outbound chan<- domain.OutboundResponse
}

func (t *ReplyTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "reply",
		Description: "Send a reply to the user. This is how you respond to the user's message. The reply is sent through the conversation's messaging adapter.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":         map[string]any{"type": "string", "description": "The content to send to the user. Can be markdown formatted."},
				"is_stream_chunk": map[string]any{"type": "boolean", "default": false, "description": "Internal flag for streaming mode - usually leave as false."},
			},
			"required": []string{"content"},
		},
	}
}

type replyArgs struct {
	Content       string `json:"content"`
	IsStreamChunk bool   `json:"is_stream_chunk"`
}

func (t *ReplyTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args replyArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("reply: %w", err)
	}
	kind := domain.OutboundText
	if args.IsStreamChunk {
		kind = domain.OutboundStreamChunk
	}
	select {
	case t.Outbound <- domain.OutboundResponse{Kind: kind, Text: args.Content}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return `{"success":true}`, nil
}

// BranchTool forks a Branch off the Channel, grounded on
// original_source/src/tools/branch_tool.rs. Spawn already registers the
// handle with the supervisor and reports any concurrency-cap rejection
// (the agent host's spawnBranch closure does both before returning), so
// BranchTool itself never calls Supervisor.RegisterBranch a second time.
type BranchTool struct {
	Spawn func(description, taskContext string, maxTurns int) (BranchHandle, error)
}

func (t *BranchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "branch",
		Description: "Fork a branch to think independently about a problem. A branch has a clone of your conversation history and can use memory tools. It returns a single conclusion without blocking you.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{"type": "string", "description": "What the branch should investigate. Be specific about the conclusion you want."},
				"context":     map[string]any{"type": "string", "description": "Optional additional context or constraints."},
				"max_turns":   map[string]any{"type": "integer", "minimum": 1, "maximum": 50, "default": 10},
			},
			"required": []string{"description"},
		},
	}
}

type branchArgs struct {
	Description string `json:"description"`
	Context     string `json:"context"`
	MaxTurns    int    `json:"max_turns"`
}

func (t *BranchTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args branchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("branch: %w", err)
	}
	if args.MaxTurns <= 0 {
		args.MaxTurns = 10
	}
	handle, err := t.Spawn(args.Description, args.Context, args.MaxTurns)
	if err != nil {
		return "", err
	}
	out, _ := json.Marshal(map[string]any{
		"branch_id": handle.ID,
		"spawned":   true,
		"message":   fmt.Sprintf("Branch %s spawned. It will investigate: %s", handle.ID, args.Description),
	})
	return string(out), nil
}

// SpawnWorkerTool creates a Worker, grounded on
// original_source/src/tools/spawn_worker.rs. Default max_turns differs by
// mode (50 fire-and-forget, 100 interactive) per the original's
// default_max_turns logic (spec.md only states 50 for all workers).
type SpawnWorkerTool struct {
	Spawn func(task, taskType string, interactive bool, maxTurns int, tools []string) (WorkerHandle, error)
}

func (t *SpawnWorkerTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "spawn_worker",
		Description: "Spawn a worker to execute a specific task. Workers run shell commands, read/write files, and execute programs independently. They do not see your conversation history.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":        map[string]any{"type": "string", "description": "Clear, specific description of what the worker should do."},
				"interactive": map[string]any{"type": "boolean", "default": false},
				"max_turns":   map[string]any{"type": "integer", "minimum": 1, "maximum": 200},
				"tools": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string", "enum": []string{"shell", "file", "exec", "browser", "web_search", "set_status"}},
				},
			},
			"required": []string{"task"},
		},
	}
}

type spawnWorkerArgs struct {
	Task        string   `json:"task"`
	Interactive bool     `json:"interactive"`
	MaxTurns    int      `json:"max_turns"`
	Tools       []string `json:"tools"`
}

func (t *SpawnWorkerTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args spawnWorkerArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("spawn_worker: %w", err)
	}
	if args.MaxTurns <= 0 {
		if args.Interactive {
			args.MaxTurns = 100
		} else {
			args.MaxTurns = 50
		}
	}
	handle, err := t.Spawn(args.Task, "general", args.Interactive, args.MaxTurns, args.Tools)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Worker %s spawned. It will complete: %s and report back when done.", handle.ID, args.Task)
	if args.Interactive {
		msg = fmt.Sprintf("Interactive worker %s spawned. It will work on: %s. Route follow-ups to it.", handle.ID, args.Task)
	}
	out, _ := json.Marshal(map[string]any{
		"worker_id":   handle.ID,
		"spawned":     true,
		"interactive": args.Interactive,
		"message":     msg,
	})
	return string(out), nil
}

// RouteTool delivers a follow-up message to a live interactive Worker,
// grounded on original_source/src/tools/route.rs.
type RouteTool struct {
	Supervisor SupervisorHandle
}

func (t *RouteTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "route",
		Description: "Send a follow-up message to an active interactive worker, instead of spawning a new one.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"worker_id": map[string]any{"type": "string", "description": "The worker id from spawn_worker's result."},
				"message":   map[string]any{"type": "string"},
			},
			"required": []string{"worker_id", "message"},
		},
	}
}

type routeArgs struct {
	WorkerID string `json:"worker_id"`
	Message  string `json:"message"`
}

// Route tool validates the worker id parses before forwarding, the way
// route.rs's parse::<WorkerId>() does (spec.md leaves this edge case
// implicit).
func (t *RouteTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args routeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("route: %w", err)
	}
	if _, err := uuid.Parse(args.WorkerID); err != nil {
		return "", fmt.Errorf("route: invalid worker id %q: %w", args.WorkerID, err)
	}
	if err := t.Supervisor.Route(args.WorkerID, args.Message); err != nil {
		return "", err
	}
	out, _ := json.Marshal(map[string]any{"routed": true, "worker_id": args.WorkerID})
	return string(out), nil
}

// CancelTool aborts a live Branch or Worker.
type CancelTool struct {
	Supervisor SupervisorHandle
}

func (t *CancelTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "cancel",
		Description: "Cancel a running branch or worker by id.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
			"required":   []string{"id"},
		},
	}
}

type cancelArgs struct {
	ID string `json:"id"`
}

func (t *CancelTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args cancelArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("cancel: %w", err)
	}
	if err := t.Supervisor.Cancel(args.ID); err != nil {
		return "", err
	}
	return `{"cancelled":true}`, nil
}

// MemorySaveTool persists a fact, grounded on
// original_source/src/tools/memory_save.rs.
type MemorySaveTool struct {
	Memory    MemoryHub
	ChannelID string
}

func (t *MemorySaveTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "memory_save",
		Description: "Save a fact, preference, decision, or other durable piece of information to long-term memory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":     map[string]any{"type": "string"},
				"memory_type": map[string]any{"type": "string", "enum": []string{"fact", "preference", "decision", "identity", "event", "observation", "goal", "todo"}, "default": "fact"},
				"importance":  map[string]any{"type": "number", "minimum": 0, "maximum": 1, "default": 0.5},
			},
			"required": []string{"content"},
		},
	}
}

type memorySaveArgs struct {
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"`
	Importance float64 `json:"importance"`
}

func (t *MemorySaveTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args memorySaveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("memory_save: %w", err)
	}
	memType := domain.MemoryType(args.MemoryType)
	if memType == "" {
		memType = domain.MemoryFact
	}
	importance := args.Importance
	if importance == 0 {
		importance = 0.5
	}
	m := &domain.Memory{
		Content:    args.Content,
		MemoryType: memType,
		Importance: importance,
		ChannelID:  t.ChannelID,
		Source:     "memory_save_tool",
	}
	if err := t.Memory.Save(ctx, m); err != nil {
		return "", fmt.Errorf("memory_save: %w", err)
	}
	out, _ := json.Marshal(map[string]any{"id": m.ID, "saved": true})
	return string(out), nil
}

// MemoryRecallTool runs hybrid search, grounded on
// original_source/src/tools/memory_recall.rs.
type MemoryRecallTool struct {
	Memory    MemoryHub
	Embed     func(ctx context.Context, text string) ([]float32, error)
	ChannelID string
}

func (t *MemoryRecallTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "memory_recall",
		Description: "Search long-term memory for facts relevant to a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string"},
				"max_results": map[string]any{"type": "integer", "default": 5},
			},
			"required": []string{"query"},
		},
	}
}

type memoryRecallArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (t *MemoryRecallTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args memoryRecallArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("memory_recall: %w", err)
	}
	if args.MaxResults <= 0 {
		args.MaxResults = 5
	}
	var vec []float32
	if t.Embed != nil {
		vec, _ = t.Embed(ctx, args.Query)
	}
	results, err := t.Memory.Search(ctx, args.Query, vec, memory.SearchOptions{K: args.MaxResults, ChannelScope: t.ChannelID})
	if err != nil {
		return "", fmt.Errorf("memory_recall: %w", err)
	}
	return formatMemories(results), nil
}

func formatMemories(results []memory.RankedMemory) string {
	if len(results) == 0 {
		return "No relevant memories found."
	}
	out := "## Relevant Memories\n\n"
	for i, r := range results {
		out += fmt.Sprintf("%d. [%s] (importance: %.2f)\n   %s\n\n", i+1, r.Memory.MemoryType, r.Memory.Importance, r.Memory.Content)
	}
	return out
}

// SkipTool tells the loop to end this turn without a reply (e.g. a message
// that doesn't warrant a response).
type SkipTool struct{}

func (t *SkipTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "skip",
		Description: "Decide that no reply is warranted for this message and end the turn silently.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"reason": map[string]any{"type": "string"}}},
	}
}

func (t *SkipTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	return `{"skipped":true}`, nil
}

// ReactTool emits a lightweight acknowledgement status update (e.g. an emoji
// reaction) without a full reply.
type ReactTool struct {
	Status chan<- domain.StatusUpdate
}

func (t *ReactTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "react",
		Description: "Emit a lightweight reaction/acknowledgement without sending a full reply.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"emoji": map[string]any{"type": "string"}},
			"required":   []string{"emoji"},
		},
	}
}

type reactArgs struct {
	Emoji string `json:"emoji"`
}

func (t *ReactTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args reactArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("react: %w", err)
	}
	select {
	case t.Status <- domain.StatusUpdate{Kind: domain.StatusThinking, Result: args.Emoji}:
	default:
	}
	return `{"reacted":true}`, nil
}

// SetStatusTool appends a status-block entry visible on the next render.
type SetStatusTool struct {
	Append func(text string)
}

func (t *SetStatusTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "set_status",
		Description: "Append a short status note to the activity log shown in future prompts (e.g. 'investigating logs').",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
	}
}

type setStatusArgs struct {
	Text string `json:"text"`
}

func (t *SetStatusTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args setStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("set_status: %w", err)
	}
	t.Append(args.Text)
	return `{"set":true}`, nil
}
