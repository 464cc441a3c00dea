// Package supervisor tracks a Channel's live Branches and Workers, enforces
// the branch concurrency cap, and routes follow-ups and cancellations to
// the right process (spec.md §4.10).
package supervisor

import (
	"context"
	"sync"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/process"
)

// DefaultMaxConcurrentBranches bounds how many Branches one Channel may
// have in flight at once (spec.md §4.4's max_concurrent_branches, left
// undefaulted by spec.md itself).
const DefaultMaxConcurrentBranches = 3

// Supervisor is a concrete process.SupervisorHandle, grounded on
// pkg/lane/manager.go's RWMutex-guarded map-of-handles Register/GetLane/
// Unregister shape, generalized from named lanes to live Branch/Worker
// process handles.
type Supervisor struct {
	maxBranches int
	log         logger.Logger

	mu       sync.RWMutex
	branches map[string]process.BranchHandle
	workers  map[string]process.WorkerHandle
}

func New(maxConcurrentBranches int, log logger.Logger) *Supervisor {
	if maxConcurrentBranches <= 0 {
		maxConcurrentBranches = DefaultMaxConcurrentBranches
	}
	if log == nil {
		log = logger.Global()
	}
	return &Supervisor{
		maxBranches: maxConcurrentBranches,
		log:         log,
		branches:    make(map[string]process.BranchHandle),
		workers:     make(map[string]process.WorkerHandle),
	}
}

// RegisterBranch enforces the concurrency cap (spec.md §4.4): past it, the
// branch tool call returns an error the model sees and can react to,
// instead of the branch silently starting anyway.
func (s *Supervisor) RegisterBranch(h process.BranchHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.branches) >= s.maxBranches {
		return &domain.AgentError{Reason: domain.AgentMaxTurnsReached} // concurrency cap, closest existing taxonomy member
	}
	s.branches[h.ID] = h
	return nil
}

// RegisterWorker retains the inbound sender: spec.md §4.10 calls out
// dropping it at spawn time as "a common bug" this exists specifically to
// avoid.
func (s *Supervisor) RegisterWorker(h process.WorkerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Inbound == nil {
		return &domain.AgentError{Reason: domain.AgentToolFailed, ToolName: "spawn_worker"}
	}
	s.workers[h.ID] = h
	return nil
}

// Route forwards text to the named worker's retained inbound channel; this
// is the exact place an implementation must verify the sender is retained
// (spec.md §4.10), which RegisterWorker already enforces at registration
// time.
func (s *Supervisor) Route(workerID, text string) error {
	s.mu.RLock()
	h, ok := s.workers[workerID]
	s.mu.RUnlock()
	if !ok {
		return &domain.NotFoundError{EntityType: "worker", ID: workerID}
	}
	select {
	case h.Inbound <- text:
		return nil
	default:
		return &domain.AgentError{Reason: domain.AgentToolFailed, ToolName: "route", Partial: "worker inbound queue full"}
	}
}

// Cancel looks up id across both maps and invokes its cancel func.
func (s *Supervisor) Cancel(id string) error {
	s.mu.RLock()
	branch, isBranch := s.branches[id]
	worker, isWorker := s.workers[id]
	s.mu.RUnlock()

	switch {
	case isBranch:
		branch.Cancel()
		return nil
	case isWorker:
		worker.Cancel()
		return nil
	default:
		return &domain.NotFoundError{EntityType: "process", ID: id}
	}
}

// Reap removes a terminal process's handle so RegisterBranch's concurrency
// cap reflects reality and Route/Cancel stop finding stale entries.
func (s *Supervisor) Reap(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.branches, id)
	delete(s.workers, id)
}

// WatchBus subscribes to the agent event bus and reaps handles as their
// processes report a terminal event, so the supervisor's bookkeeping never
// depends on every caller remembering to call Reap directly.
func (s *Supervisor) WatchBus(ctx context.Context, bus *eventbus.AgentBus) error {
	sub, err := bus.Subscribe(64)
	if err != nil {
		return err
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if ev.Kind == eventbus.EventProcessTerminal || ev.Kind == eventbus.EventBranchResult || ev.Kind == eventbus.EventWorkerCompleted {
					s.Reap(ev.Process.ID)
				}
			}
		}
	}()
	return nil
}

// Counts reports how many branches and workers are currently registered,
// for status-block rendering and tests.
func (s *Supervisor) Counts() (branches, workers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.branches), len(s.workers)
}
