package cron

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/eventbus"
	"github.com/kestrel-run/kestrel/pkg/logger"
)

// Deliverer routes a heartbeat prompt to its delivery target (typically a
// Channel or Worker addressed by the supervisor/binding layer).
type Deliverer func(ctx context.Context, deliveryTarget, prompt string) error

// Scheduler polls the enabled job set on a fixed tick and fires any job
// whose interval has elapsed and whose active window (if any) currently
// holds, mirroring the teacher's ticker+context-cancel shutdown shape used
// throughout (pkg/memory/fsrs.go's DecayManager, pkg/cluster/leader.go's
// LeaderElector).
type Scheduler struct {
	store     *Store
	deliverer Deliverer
	bus       *eventbus.AgentBus
	agentID   string
	tickEvery time.Duration
	logger    logger.Logger

	mu       sync.Mutex
	lastRun  map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(store *Store, deliverer Deliverer, bus *eventbus.AgentBus, agentID string, tickEvery time.Duration, log logger.Logger) *Scheduler {
	if tickEvery <= 0 {
		tickEvery = time.Second
	}
	if log == nil {
		log = logger.Global()
	}
	return &Scheduler{
		store:     store,
		deliverer: deliverer,
		bus:       bus,
		agentID:   agentID,
		tickEvery: tickEvery,
		logger:    log,
		lastRun:   make(map[string]time.Time),
	}
}

// Start begins the polling loop; Stop cancels it.
func (s *Scheduler) Start(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.tick(ctx); err != nil {
					s.logger.Warn("cron tick failed", "error", err)
				}
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) tick(ctx context.Context) error {
	jobs, err := s.store.LoadEnabled(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, job := range jobs {
		if !job.InActiveWindow(now.Hour()) {
			continue
		}
		s.mu.Lock()
		last, ran := s.lastRun[job.ID]
		s.mu.Unlock()
		if ran && now.Sub(last) < time.Duration(job.IntervalSecs)*time.Second {
			continue
		}

		s.runOne(ctx, job, now)
	}
	return nil
}

func (s *Scheduler) runOne(ctx context.Context, job *domain.CronJob, now time.Time) {
	s.mu.Lock()
	s.lastRun[job.ID] = now
	s.mu.Unlock()

	err := s.deliverer(ctx, job.DeliveryTarget, job.Prompt)
	success := err == nil
	summary := "delivered"
	if err != nil {
		summary = err.Error()
	}

	wasEnabled := job.Enabled
	if recErr := s.store.RecordExecution(ctx, job, success, summary); recErr != nil {
		s.logger.Error("failed to record cron execution", "job", job.ID, "error", recErr)
	}

	if !success {
		s.logger.Warn("cron job delivery failed", "job", job.ID, "consecutive_fails", job.ConsecutiveFails)
	}
	if wasEnabled && !job.Enabled && s.bus != nil {
		s.bus.Publish(ctx, eventbus.ProcessEvent{
			Kind:     eventbus.EventCronFailed,
			Process:  domain.ProcessID{Kind: domain.ProcessCortex, AgentID: s.agentID},
			TaskType: job.ID,
			Err:      summary,
		})
	}
}
