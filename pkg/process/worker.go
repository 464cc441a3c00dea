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
	"github.com/kestrel-run/kestrel/pkg/metrics"
)

const (
	DefaultWorkerMaxTurns            = 50
	DefaultInteractiveWorkerMaxTurns = 100
)

// WorkerState enumerates a Worker's lifecycle states (spec.md §4.5).
type WorkerState int

const (
	WorkerPending WorkerState = iota
	WorkerRunning
	WorkerAwaitingInput
	WorkerSucceeded
	WorkerFailed
	WorkerCancelled
	WorkerTimedOut
)

func (s WorkerState) String() string {
	switch s {
	case WorkerPending:
		return "pending"
	case WorkerRunning:
		return "running"
	case WorkerAwaitingInput:
		return "awaiting_input"
	case WorkerSucceeded:
		return "succeeded"
	case WorkerFailed:
		return "failed"
	case WorkerCancelled:
		return "cancelled"
	case WorkerTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// legalWorkerTransitions guards the state machine from spec.md §4.5:
//
//	Pending -> Running -> (Succeeded | Failed | Cancelled | TimedOut)
//	Running -> AwaitingInput -> Running
var legalWorkerTransitions = map[WorkerState]map[WorkerState]bool{
	WorkerPending:       {WorkerRunning: true, WorkerCancelled: true},
	WorkerRunning:       {WorkerAwaitingInput: true, WorkerSucceeded: true, WorkerFailed: true, WorkerCancelled: true, WorkerTimedOut: true},
	WorkerAwaitingInput: {WorkerRunning: true, WorkerCancelled: true},
}

// ErrIllegalTransition reports an attempted state transition the state
// machine does not permit.
type ErrIllegalTransition struct {
	From, To WorkerState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("worker: illegal transition %s -> %s", e.From, e.To)
}

// Worker executes a typed task with its own tool set, optionally accepting
// interactive follow-ups (spec.md §4.5), grounded on
// original_source/src/tools/spawn_worker.rs and route.rs, with the
// Pending->Running->terminal state machine guarded the way
// engine.StateTracker.SetState guards task states.
type Worker struct {
	ID          domain.ProcessID
	Task        string
	TaskType    string
	Interactive bool
	MaxTurns    int

	memory         MemoryHub
	router         *llm.Router
	bus            *eventbus.AgentBus
	breakers       *ToolBreakers
	metrics        *metrics.Manager
	log            logger.Logger
	sandboxDir     string
	searchEndpoint string

	mu       sync.Mutex
	state    WorkerState
	inbound  chan string
	cancelCh chan struct{}
}

type WorkerConfig struct {
	AgentID        string
	Task           string
	TaskType       string
	Interactive    bool
	MaxTurns       int
	Memory         MemoryHub
	Router         *llm.Router
	Bus            *eventbus.AgentBus
	Metrics        *metrics.Manager
	Logger         logger.Logger
	SandboxDir     string
	SearchEndpoint string
}

func NewWorker(cfg WorkerConfig) *Worker {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		if cfg.Interactive {
			maxTurns = DefaultInteractiveWorkerMaxTurns
		} else {
			maxTurns = DefaultWorkerMaxTurns
		}
	}
	return &Worker{
		ID:             domain.ProcessID{ID: uuid.New().String(), Kind: domain.ProcessWorker, AgentID: cfg.AgentID, TaskType: cfg.TaskType},
		Task:           cfg.Task,
		TaskType:       cfg.TaskType,
		Interactive:    cfg.Interactive,
		MaxTurns:       maxTurns,
		memory:         cfg.Memory,
		router:         cfg.Router,
		bus:            cfg.Bus,
		breakers:       NewToolBreakers(),
		metrics:        cfg.Metrics,
		log:            log,
		sandboxDir:     cfg.SandboxDir,
		searchEndpoint: cfg.SearchEndpoint,
		state:          WorkerPending,
		inbound:        make(chan string, 16),
		cancelCh:       make(chan struct{}),
	}
}

// Inbound returns the send half for follow-up delivery (spec.md §4.5
// "interactive mode"); the supervisor retains this exact channel.
func (w *Worker) Inbound() chan<- string { return w.inbound }

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// transition applies a guarded state change, rejecting illegal ones.
func (w *Worker) transition(to WorkerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == to {
		return nil
	}
	if !legalWorkerTransitions[w.state][to] {
		return &ErrIllegalTransition{From: w.state, To: to}
	}
	w.state = to
	return nil
}

// Cancel signals cooperative cancellation: the loop stops at the next turn
// boundary. In-flight tool calls with external side effects are not
// aborted; they complete and their results are discarded (spec.md §4.5).
func (w *Worker) Cancel() {
	select {
	case <-w.cancelCh:
	default:
		close(w.cancelCh)
	}
}

// Run executes the worker's agent loop. If it hits max_turns, the collected
// text is returned as a partial result, never dropped (spec.md §4.5
// "Partial recovery").
func (w *Worker) Run(ctx context.Context) <-chan RunOutcome {
	out := make(chan RunOutcome, 1)
	w.metrics.RecordProcessSpawn("worker")
	go func() {
		defer close(out)
		if err := w.transition(WorkerRunning); err != nil {
			w.metrics.RecordProcessExit("worker", "failed")
			out <- RunOutcome{Kind: OutcomeFailed, Err: err}
			return
		}
		outcome := w.runLoop(ctx)
		w.metrics.RecordProcessExit("worker", string(outcome.Kind))
		switch outcome.Kind {
		case OutcomeConcluded:
			w.transition(WorkerSucceeded)
		case OutcomeCancelled:
			w.transition(WorkerCancelled)
		case OutcomeTimedOut:
			w.transition(WorkerTimedOut)
		case OutcomeMaxTurns:
			w.transition(WorkerSucceeded) // partial, but not a failure
		default:
			w.transition(WorkerFailed)
		}
		out <- outcome
		if w.bus != nil {
			w.bus.Publish(ctx, eventbus.ProcessEvent{
				Kind:     eventbus.EventWorkerCompleted,
				Process:  w.ID,
				TaskType: w.TaskType,
				Result:   outcome.Text,
				Err:      errString(outcome.Err),
			})
		}
	}()
	return out
}

// taskTools returns the task-type-specific tool set (spec.md §4.5): a
// shell/file-focused worker gets the sandbox tools, a research-focused
// worker gets web_search/browser. An unrecognized task type gets all of
// them rather than none, since the router's task_type is advisory.
func (w *Worker) taskTools() []Tool {
	workDir := w.workDir()
	switch w.TaskType {
	case "shell", "ops", "build":
		return []Tool{&ShellTool{WorkDir: workDir}, &ExecTool{WorkDir: workDir}, &FileTool{Root: workDir}}
	case "research", "web":
		return []Tool{&WebSearchTool{Endpoint: w.searchEndpoint}, &BrowserTool{}}
	default:
		return []Tool{
			&ShellTool{WorkDir: workDir}, &ExecTool{WorkDir: workDir}, &FileTool{Root: workDir},
			&WebSearchTool{Endpoint: w.searchEndpoint}, &BrowserTool{},
		}
	}
}

func (w *Worker) workDir() string {
	if w.sandboxDir != "" {
		return w.sandboxDir
	}
	return "."
}

func (w *Worker) runLoop(ctx context.Context) RunOutcome {
	messages := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf("You are an independent worker executing: %s. You do not see any conversation history.", w.Task),
	}}

	tools := append(w.taskTools(), []Tool{
		&MemorySaveTool{Memory: w.memory, ChannelID: ""},
		&MemoryRecallTool{Memory: w.memory, ChannelID: ""},
		&SetStatusTool{Append: func(string) {}},
	}...)
	specs := make([]llm.ToolSpec, len(tools))
	byName := make(map[string]Tool, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
		byName[t.Spec().Name] = t
	}

	model := w.router.Resolve(ctx, llm.ResolveOptions{ProcessKind: domain.ProcessWorker, TaskType: w.TaskType, UserMessage: w.Task})

	for turn := 0; turn < w.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			return RunOutcome{Kind: OutcomeTimedOut, Text: lastAssistantText(messages), Err: ctx.Err()}
		case <-w.cancelCh:
			return RunOutcome{Kind: OutcomeCancelled, Text: lastAssistantText(messages)}
		case followUp := <-w.inbound:
			w.transition(WorkerAwaitingInput)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: followUp})
			w.transition(WorkerRunning)
		default:
		}

		resp, err := w.router.Call(ctx, model, llm.Request{Model: model, Messages: messages, Tools: specs})
		if err != nil {
			return RunOutcome{Kind: OutcomeFailed, Text: lastAssistantText(messages), Err: err}
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
			result, err := w.breakers.Call(ctx, tc.Name, func(ctx context.Context) (string, error) {
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
