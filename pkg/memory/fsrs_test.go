package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

func TestDecayManager_Apply(t *testing.T) {
	dm := NewDecayManager(0.1, 0.05, time.Hour)

	m := &domain.Memory{
		Importance:     0.8,
		LastAccessedAt: time.Now().Add(-10 * 24 * time.Hour),
	}
	before := m.Importance
	dm.Apply(m, time.Now())

	if m.Importance >= before {
		t.Errorf("expected importance to decay below %f, got %f", before, m.Importance)
	}
	if dm.TotalDecayed() != 1 {
		t.Errorf("expected totalDecayed 1, got %d", dm.TotalDecayed())
	}
}

func TestDecayManager_ApplyFloorsAtMinimum(t *testing.T) {
	dm := NewDecayManager(5.0, 0.1, time.Hour)

	m := &domain.Memory{
		Importance:     0.9,
		LastAccessedAt: time.Now().Add(-365 * 24 * time.Hour),
	}
	dm.Apply(m, time.Now())

	if m.Importance < 0.1 {
		t.Errorf("expected importance floored at 0.1, got %f", m.Importance)
	}
}

func TestDecayManager_ApplyNoOpForRecentAccess(t *testing.T) {
	dm := NewDecayManager(0.1, 0.05, time.Hour)

	m := &domain.Memory{
		Importance:     0.8,
		LastAccessedAt: time.Now(),
	}
	dm.Apply(m, time.Now())

	if m.Importance != 0.8 {
		t.Errorf("expected importance unchanged, got %f", m.Importance)
	}
	if dm.TotalDecayed() != 0 {
		t.Errorf("expected totalDecayed 0, got %d", dm.TotalDecayed())
	}
}

func TestDecayManager_StartLoopAndStop(t *testing.T) {
	dm := NewDecayManager(0.1, 0.05, 10*time.Millisecond)

	calls := make(chan struct{}, 10)
	dm.StartLoop(context.Background(), func(ctx context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected the maintenance loop to fire at least once")
	}

	dm.Stop()
}
