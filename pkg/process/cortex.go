package process

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/metrics"
)

const DefaultCortexCadence = 60 * time.Minute

// classifyEvent is a pure function from a raw process event to a bulletin
// line, the way spec.md §4.7 requires per-event classification to be pure
// (no I/O, no state) so Cortex's buffering stays a simple accumulate/flush.
func classifyEvent(ev eventbus.ProcessEvent) string {
	switch ev.Kind {
	case eventbus.EventCircuitBreakerTripped:
		return fmt.Sprintf("anomaly: tool %q disabled after repeated failures", ev.ToolName)
	case eventbus.EventCronFailed:
		return "anomaly: a scheduled heartbeat failed to deliver"
	case eventbus.EventMemoryContradiction:
		return "anomaly: a saved memory appears to contradict a prior one"
	case eventbus.EventWorkerCompleted:
		return fmt.Sprintf("activity: worker task %q completed", ev.TaskType)
	case eventbus.EventBranchResult:
		return "activity: a branch concluded"
	case eventbus.EventProcessTerminal:
		return fmt.Sprintf("activity: process %s terminated", ev.Process.ID)
	default:
		return ""
	}
}

// Cortex subscribes to an agent's event bus, buffers what it sees, and on a
// fixed cadence (default 60 minutes, spec.md §4.7) writes a single bulletin
// memory summarizing anomalies, aggregate activity, and consolidation
// opportunities it noticed. Grounded on pkg/cluster/leader.go's
// run-loop-with-subscribers shape: a cancelable background goroutine,
// ticker-paced, publishing derived state rather than raw events.
type Cortex struct {
	AgentID string
	Cadence time.Duration
	Memory  MemoryHub
	Bus     *eventbus.AgentBus
	Log     logger.Logger

	mu      sync.Mutex
	buffer  []string
	running bool
	cancel  context.CancelFunc
	metrics *metrics.Manager
}

type CortexConfig struct {
	AgentID string
	Cadence time.Duration
	Memory  MemoryHub
	Bus     *eventbus.AgentBus
	Metrics *metrics.Manager
	Logger  logger.Logger
}

func NewCortex(cfg CortexConfig) *Cortex {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	cadence := cfg.Cadence
	if cadence <= 0 {
		cadence = DefaultCortexCadence
	}
	return &Cortex{
		AgentID: cfg.AgentID,
		Cadence: cadence,
		Memory:  cfg.Memory,
		Bus:     cfg.Bus,
		Log:     log,
		metrics: cfg.Metrics,
	}
}

// Start subscribes to the bus and launches the buffering/flush loop.
func (c *Cortex) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	sub, err := c.Bus.Subscribe(64)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("cortex: subscribe: %w", err)
	}

	c.metrics.RecordProcessSpawn("cortex")
	go c.run(loopCtx, sub)
	return nil
}

func (c *Cortex) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.cancel()
	c.running = false
	c.metrics.RecordProcessExit("cortex", "cancelled")
}

func (c *Cortex) run(ctx context.Context, sub *eventbus.EventSubscription) {
	defer sub.Close()
	ticker := time.NewTicker(c.Cadence)
	defer ticker.Stop()

	events := sub.C()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if line := classifyEvent(ev); line != "" {
				c.mu.Lock()
				c.buffer = append(c.buffer, line)
				c.mu.Unlock()
			}
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

// flush writes the accumulated bulletin as a single observation memory and
// clears the buffer. An empty interval still produces a short bulletin
// noting quiet activity, since the absence of anomalies is itself a signal
// a later maintenance pass might want.
func (c *Cortex) flush(ctx context.Context) {
	c.mu.Lock()
	lines := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	var bulletin string
	if len(lines) == 0 {
		bulletin = "quiet interval: no anomalies or notable activity."
	} else {
		bulletin = strings.Join(lines, "\n")
	}

	mem := &domain.Memory{
		ID:         uuid.New().String(),
		Content:    bulletin,
		MemoryType: domain.MemoryObservation,
		Importance: 0.3,
		Source:     "cortex",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := c.Memory.Save(ctx, mem); err != nil {
		c.Log.Error("cortex: failed to save bulletin", "agent_id", c.AgentID, "error", err)
	}
}
