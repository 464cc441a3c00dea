package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// DecayManager applies the importance-decay maintenance rule: a memory's
// importance decays exponentially with days elapsed since its last access,
// floored so nothing decays to zero and silently vanishes from ranking.
type DecayManager struct {
	mu       sync.Mutex
	lambda   float64
	floor    float64
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	totalDecayed int64
}

// NewDecayManager creates a decay manager with the given rate, floor, and
// maintenance loop cadence.
func NewDecayManager(lambda, floor float64, interval time.Duration) *DecayManager {
	return &DecayManager{
		lambda:   lambda,
		floor:    floor,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Apply decays m's importance in place: importance := max(floor, importance*e^(-lambda*deltaDays)),
// where deltaDays is the number of days since LastAccessedAt. A memory
// accessed at or after now is left untouched.
func (d *DecayManager) Apply(m *domain.Memory, now time.Time) {
	deltaDays := now.Sub(m.LastAccessedAt).Hours() / 24
	if deltaDays <= 0 {
		return
	}
	decayed := m.Importance * math.Exp(-d.lambda*deltaDays)
	if decayed < d.floor {
		decayed = d.floor
	}
	if decayed == m.Importance {
		return
	}
	m.Importance = decayed
	m.UpdatedAt = now

	d.mu.Lock()
	d.totalDecayed++
	d.mu.Unlock()
}

// StartLoop runs fn on a fixed tick until the parent context is cancelled or
// Stop is called.
func (d *DecayManager) StartLoop(parentCtx context.Context, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(parentCtx)
	d.cancel = cancel

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the maintenance loop.
func (d *DecayManager) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

// TotalDecayed returns the running count of memories decayed since startup.
func (d *DecayManager) TotalDecayed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalDecayed
}
