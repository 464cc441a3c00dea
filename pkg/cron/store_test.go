package cron

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	memstore "github.com/kestrel-run/kestrel/pkg/storage/memory"
)

func TestStore_LoadEnabledOrdersByCreation(t *testing.T) {
	backing := memstore.New()
	store := NewStore(backing)
	ctx := context.Background()

	older := &domain.CronJob{ID: "j1", Prompt: "p1", IntervalSecs: 60, Enabled: true, CreatedAt: time.Now().Add(-time.Hour)}
	newer := &domain.CronJob{ID: "j2", Prompt: "p2", IntervalSecs: 60, Enabled: true, CreatedAt: time.Now()}
	disabled := &domain.CronJob{ID: "j3", Prompt: "p3", IntervalSecs: 60, Enabled: false, CreatedAt: time.Now().Add(-2 * time.Hour)}

	store.Save(ctx, newer)
	store.Save(ctx, older)
	store.Save(ctx, disabled)

	jobs, err := store.LoadEnabled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 enabled jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "j1" || jobs[1].ID != "j2" {
		t.Errorf("expected j1 before j2, got %s then %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestStore_RecordExecutionDisablesAfterThreeFailures(t *testing.T) {
	backing := memstore.New()
	store := NewStore(backing)
	ctx := context.Background()

	job := &domain.CronJob{ID: "j1", Prompt: "p", IntervalSecs: 60, Enabled: true}
	store.Save(ctx, job)

	for i := 0; i < MaxConsecutiveFailures; i++ {
		if err := store.RecordExecution(ctx, job, false, "boom"); err != nil {
			t.Fatal(err)
		}
	}

	if job.Enabled {
		t.Error("expected job to be disabled after 3 consecutive failures")
	}
	if job.ConsecutiveFails != MaxConsecutiveFailures {
		t.Errorf("expected %d consecutive fails, got %d", MaxConsecutiveFailures, job.ConsecutiveFails)
	}
}

func TestStore_RecordExecutionResetsOnSuccess(t *testing.T) {
	backing := memstore.New()
	store := NewStore(backing)
	ctx := context.Background()

	job := &domain.CronJob{ID: "j1", Prompt: "p", IntervalSecs: 60, Enabled: true}
	store.Save(ctx, job)
	store.RecordExecution(ctx, job, false, "boom")
	store.RecordExecution(ctx, job, true, "ok")

	if job.ConsecutiveFails != 0 {
		t.Errorf("expected consecutive fails reset to 0, got %d", job.ConsecutiveFails)
	}
	if !job.Enabled {
		t.Error("expected job to remain enabled")
	}
}
