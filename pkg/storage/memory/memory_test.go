package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

func TestStore_SaveAndGetMemory(t *testing.T) {
	s := New()
	ctx := context.Background()

	m := &domain.Memory{
		ID:         "mem-1",
		Content:    "user prefers dark mode",
		MemoryType: domain.MemoryPreference,
		Importance: 1.4, // exercises clamping
		ChannelID:  "chan-1",
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.SaveMemory(ctx, m); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	got, err := s.GetMemory(ctx, "mem-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Importance != 1 {
		t.Fatalf("expected importance clamped to 1, got %v", got.Importance)
	}
	got.Content = "mutated"
	again, _ := s.GetMemory(ctx, "mem-1")
	if again.Content != "user prefers dark mode" {
		t.Fatalf("GetMemory must return an isolated copy, got mutation leak")
	}
}

func TestStore_GetMemory_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetMemory(context.Background(), "missing")
	var nf *domain.NotFoundError
	if !asNotFound(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func asNotFound(err error, target **domain.NotFoundError) bool {
	nf, ok := err.(*domain.NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

func TestStore_TouchMemory(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveMemory(ctx, &domain.Memory{ID: "mem-1", MemoryType: domain.MemoryFact})

	if err := s.TouchMemory(ctx, "mem-1"); err != nil {
		t.Fatalf("TouchMemory: %v", err)
	}
	got, _ := s.GetMemory(ctx, "mem-1")
	if got.AccessCount != 1 {
		t.Fatalf("expected access_count=1, got %d", got.AccessCount)
	}
}

func TestStore_ListMemories_Filters(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveMemory(ctx, &domain.Memory{ID: "a", MemoryType: domain.MemoryFact, ChannelID: "c1", Importance: 0.9})
	_ = s.SaveMemory(ctx, &domain.Memory{ID: "b", MemoryType: domain.MemoryGoal, ChannelID: "c2", Importance: 0.2})
	_ = s.SaveMemory(ctx, &domain.Memory{ID: "c", MemoryType: domain.MemoryFact, Importance: 0.5})

	out, err := s.ListMemories(ctx, storage.MemoryFilter{
		Types:         []domain.MemoryType{domain.MemoryFact},
		ChannelID:     "c1",
		IncludeGlobal: true,
	})
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 matches (a and c), got %d", len(out))
	}
}

func TestStore_Associations_CascadeDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveAssociation(ctx, &domain.Association{ID: "e1", SourceID: "a", TargetID: "b", Relation: domain.RelationRelatedTo})
	_ = s.SaveAssociation(ctx, &domain.Association{ID: "e2", SourceID: "b", TargetID: "c", Relation: domain.RelationSupports})

	if err := s.DeleteAssociationsFor(ctx, "b"); err != nil {
		t.Fatalf("DeleteAssociationsFor: %v", err)
	}
	out, _ := s.ListOutgoing(ctx, "a")
	if len(out) != 0 {
		t.Fatalf("expected edge touching b to be removed, got %d remaining", len(out))
	}
}

func TestStore_Turns_SequenceAndDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	seq, err := s.NextSequence(ctx, "chan-1")
	if err != nil || seq != 1 {
		t.Fatalf("expected first sequence 1, got %d err %v", seq, err)
	}

	turn := &domain.ConversationTurn{ChannelID: "chan-1", Sequence: seq, Inbound: "hi"}
	if err := s.SaveTurn(ctx, turn); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if err := s.SaveTurn(ctx, turn); err == nil {
		t.Fatalf("expected DuplicateError on re-save of same sequence")
	}
}

func TestStore_ArchiveAndRemoveTurns(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		_ = s.SaveTurn(ctx, &domain.ConversationTurn{ChannelID: "c1", Sequence: i})
	}
	if err := s.ArchiveAndRemoveTurns(ctx, storage.TurnRange{ChannelID: "c1", Start: 1, End: 3}); err != nil {
		t.Fatalf("ArchiveAndRemoveTurns: %v", err)
	}
	remaining, _ := s.ListTurns(ctx, "c1", 0, 0)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 turns remaining, got %d", len(remaining))
	}
}

func TestStore_CronJobs_EnabledOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveCronJob(ctx, &domain.CronJob{ID: "j1", Enabled: true})
	_ = s.SaveCronJob(ctx, &domain.CronJob{ID: "j2", Enabled: false})

	jobs, err := s.ListEnabledCronJobs(ctx)
	if err != nil {
		t.Fatalf("ListEnabledCronJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("expected only j1 enabled, got %+v", jobs)
	}
}

func TestStore_MarkInboundSeen_Dedup(t *testing.T) {
	s := New()
	ctx := context.Background()
	first, err := s.MarkInboundSeen(ctx, "telegram", "msg-1")
	if err != nil || !first {
		t.Fatalf("expected first-seen true, got %v err %v", first, err)
	}
	second, err := s.MarkInboundSeen(ctx, "telegram", "msg-1")
	if err != nil || second {
		t.Fatalf("expected repeat delivery to report first-seen false, got %v err %v", second, err)
	}
}
