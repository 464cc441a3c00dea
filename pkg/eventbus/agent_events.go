package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// ProcessEventKind enumerates the event kinds broadcast on the agent-wide
// bus for Cortex and UI observers (spec.md §2 component 9).
type ProcessEventKind string

const (
	EventToolStarted           ProcessEventKind = "tool_started"
	EventToolCompleted         ProcessEventKind = "tool_completed"
	EventBranchStarted         ProcessEventKind = "branch_started"
	EventBranchResult          ProcessEventKind = "branch_result"
	EventWorkerStarted         ProcessEventKind = "worker_started"
	EventWorkerCompleted       ProcessEventKind = "worker_completed"
	EventProcessTerminal       ProcessEventKind = "process_terminal"
	EventCircuitBreakerTripped ProcessEventKind = "circuit_breaker_tripped"
	EventMemoryContradiction   ProcessEventKind = "memory_contradiction"
	EventCronFailed            ProcessEventKind = "cron_failed"
)

// ProcessEvent is one broadcast fact about process activity within an agent.
type ProcessEvent struct {
	Kind      ProcessEventKind   `json:"kind"`
	AgentID   string             `json:"agent_id"`
	Process   domain.ProcessID   `json:"process"`
	ToolName  string             `json:"tool_name,omitempty"`
	TaskType  string             `json:"task_type,omitempty"`
	Result    string             `json:"result,omitempty"`
	Err       string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// agentSubject returns the canonical bus subject for one agent's process
// events, so a single MemoryBus can be shared by several agents on one host
// without cross-talk.
func agentSubject(agentID string) string {
	return fmt.Sprintf("kestrel.v1.agent.%s.events", sanitizeSegment(agentID))
}

// sanitizeSegment guards against empty subject segments, which would
// otherwise produce a malformed subject string.
func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// AgentBus publishes and fans in ProcessEvents for a single agent, backed by
// a MemoryBus. Cortex is the canonical consumer; the status block and any
// admin UI observer subscribe the same way.
type AgentBus struct {
	bus     *MemoryBus
	agentID string
}

func NewAgentBus(agentID string) *AgentBus {
	return &AgentBus{bus: NewMemoryBus(), agentID: agentID}
}

// Publish broadcasts ev, stamping AgentID and Timestamp if unset.
func (b *AgentBus) Publish(ctx context.Context, ev ProcessEvent) error {
	ev.AgentID = b.agentID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.bus.Publish(ctx, agentSubject(b.agentID), payload)
}

// EventSubscription is a typed view over a raw *Subscription, decoding each
// delivered Message back into a ProcessEvent.
type EventSubscription struct {
	sub *Subscription
}

// Subscribe fans in every event published for this agent. buffer bounds the
// subscriber's own queue; per spec.md §5 a slow subscriber drops new events
// rather than blocking the publisher.
func (b *AgentBus) Subscribe(buffer int) (*EventSubscription, error) {
	sub, err := b.bus.Subscribe(agentSubject(b.agentID), buffer)
	if err != nil {
		return nil, err
	}
	return &EventSubscription{sub: sub}, nil
}

// C returns a channel of decoded ProcessEvents; malformed payloads are
// dropped rather than delivered or surfaced as an error, matching the bus's
// own best-effort delivery contract.
func (s *EventSubscription) C() <-chan ProcessEvent {
	out := make(chan ProcessEvent, 1)
	go func() {
		defer close(out)
		for msg := range s.sub.C() {
			var ev ProcessEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				continue
			}
			out <- ev
		}
	}()
	return out
}

func (s *EventSubscription) Close() error { return s.sub.Close() }
