package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	memstore "github.com/kestrel-run/kestrel/pkg/storage/memory"
)

func TestScheduler_FiresEnabledJobOnInterval(t *testing.T) {
	backing := memstore.New()
	store := NewStore(backing)
	ctx := context.Background()

	job := &domain.CronJob{ID: "j1", Prompt: "say hi", IntervalSecs: 1, Enabled: true, DeliveryTarget: "webhook:ci"}
	store.Save(ctx, job)

	var calls atomic.Int32
	deliverer := func(ctx context.Context, target, prompt string) error {
		calls.Add(1)
		return nil
	}

	sched := NewScheduler(store, deliverer, nil, "agent1", 10*time.Millisecond, nil)
	sched.Start(ctx)
	defer sched.Stop()

	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one delivery")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestScheduler_SkipsOutsideActiveWindow(t *testing.T) {
	backing := memstore.New()
	store := NewStore(backing)
	ctx := context.Background()

	// A window that cannot match the current hour: length-zero window at
	// an hour one less than now, guaranteed closed for the test duration.
	closedHour := (time.Now().Hour() + 1) % 24
	start, end := closedHour, closedHour
	job := &domain.CronJob{
		ID: "j1", Prompt: "p", IntervalSecs: 1, Enabled: true,
		ActiveStartHour: &start, ActiveEndHour: &end,
	}
	store.Save(ctx, job)

	var calls atomic.Int32
	deliverer := func(ctx context.Context, target, prompt string) error {
		calls.Add(1)
		return nil
	}

	sched := NewScheduler(store, deliverer, nil, "agent1", 10*time.Millisecond, nil)
	if err := sched.tick(ctx); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected 0 deliveries outside the active window, got %d", calls.Load())
	}
}
