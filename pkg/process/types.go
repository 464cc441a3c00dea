// Package process implements the agent's cooperative process tree: Channel,
// Branch, Worker, Compactor, and Cortex, plus the tool set they expose to the
// LLM loop (spec §4.3-4.7).
package process

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/memory"
)

// Tool is one LLM-callable function. Its Spec's Parameters describe the
// JSON-schema the model must produce, the way original_source/src/tools/*.rs
// each self-describe a ToolDefinition.
type Tool interface {
	Spec() llm.ToolSpec
	Call(ctx context.Context, rawArgs json.RawMessage) (string, error)
}

// ToolResult pairs a tool call's id with its outcome text, ready to become a
// RoleTool message on the next turn.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

// RunOutcome is the terminal result of one process's LLM loop.
type RunOutcomeKind string

const (
	OutcomeConcluded     RunOutcomeKind = "concluded"
	OutcomeMaxTurns      RunOutcomeKind = "max_turns"
	OutcomeCancelled     RunOutcomeKind = "cancelled"
	OutcomeTimedOut      RunOutcomeKind = "timed_out"
	OutcomeFailed        RunOutcomeKind = "failed"
)

// RunOutcome carries a process loop's result, whether clean or partial.
// Max-turns, cancellation and timeout are completions, not errors
// (spec §7: "not errors of the run; completions with a partial payload").
type RunOutcome struct {
	Kind    RunOutcomeKind
	Text    string
	Err     error
}

// BranchHandle is what a Channel's supervisor retains for a live Branch: an
// id, a cancel signal, and a channel the Branch publishes its outcome to.
type BranchHandle struct {
	ID        string
	Cancel    context.CancelFunc
	Result    <-chan RunOutcome
	StartedAt time.Time
}

// WorkerHandle is what a Channel's supervisor retains for a live Worker.
// Inbound is the retained send-half for follow-up delivery (spec §4.10's
// explicit warning: "a common bug is dropping it at spawn time").
type WorkerHandle struct {
	ID          string
	TaskType    string
	Interactive bool
	Cancel      context.CancelFunc
	Inbound     chan<- string
	Result      <-chan RunOutcome
	StartedAt   time.Time
}

// Deps bundles the shared collaborators every process kind needs: memory,
// router, event bus, and supervisor. Built once per agent and passed down.
type Deps struct {
	Memory   MemoryHub
	Router   *llm.Router
	Supervisor SupervisorHandle
}

// MemoryHub is the subset of pkg/memory.Hub the tool set needs; satisfied
// directly by *memory.MemoryHub.
type MemoryHub interface {
	Search(ctx context.Context, queryText string, queryVector []float32, opts memory.SearchOptions) ([]memory.RankedMemory, error)
	Save(ctx context.Context, m *domain.Memory) error
}

// SupervisorHandle is the subset of pkg/supervisor.Supervisor the tool set
// needs, to avoid an import cycle between pkg/process and pkg/supervisor
// (the supervisor constructs Branch/Worker processes, which need the tools,
// which need the supervisor).
type SupervisorHandle interface {
	RegisterBranch(h BranchHandle) error
	RegisterWorker(h WorkerHandle) error
	Route(workerID, text string) error
	Cancel(id string) error
}
