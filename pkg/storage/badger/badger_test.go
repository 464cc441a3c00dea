package badger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "kestrel-badger-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(&Config{Path: dir, ValueLogFileSize: 1 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_MemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &domain.Memory{ID: "mem-1", Content: "likes tea", MemoryType: domain.MemoryFact, ChannelID: "c1", Importance: 0.7}
	if err := s.SaveMemory(ctx, m); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	got, err := s.GetMemory(ctx, "mem-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != m.Content {
		t.Fatalf("content mismatch: %q", got.Content)
	}

	if err := s.TouchMemory(ctx, "mem-1"); err != nil {
		t.Fatalf("TouchMemory: %v", err)
	}
	got, _ = s.GetMemory(ctx, "mem-1")
	if got.AccessCount != 1 {
		t.Fatalf("expected access_count 1, got %d", got.AccessCount)
	}

	if err := s.DeleteMemory(ctx, "mem-1"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if _, err := s.GetMemory(ctx, "mem-1"); err == nil {
		t.Fatalf("expected NotFoundError after delete")
	}
}

func TestStore_ListMemories_ChannelIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.SaveMemory(ctx, &domain.Memory{ID: "a", MemoryType: domain.MemoryFact, ChannelID: "c1"})
	_ = s.SaveMemory(ctx, &domain.Memory{ID: "b", MemoryType: domain.MemoryFact, ChannelID: "c2"})

	out, err := s.ListMemories(ctx, storage.MemoryFilter{ChannelID: "c1"})
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only memory a, got %+v", out)
	}
}

func TestStore_TurnSequenceIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := s.NextSequence(ctx, "chan-1")
		if err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		seqs = append(seqs, seq)
	}
	for i, want := range []int64{1, 2, 3} {
		if seqs[i] != want {
			t.Fatalf("expected sequence %d at index %d, got %d", want, i, seqs[i])
		}
	}
}

func TestStore_ArchiveAndRemoveTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		if err := s.SaveTurn(ctx, &domain.ConversationTurn{ChannelID: "c1", Sequence: i, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}
	if err := s.ArchiveAndRemoveTurns(ctx, storage.TurnRange{ChannelID: "c1", Start: 1, End: 2}); err != nil {
		t.Fatalf("ArchiveAndRemoveTurns: %v", err)
	}
	remaining, err := s.ListTurns(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining turns, got %d", len(remaining))
	}
}

func TestStore_CronEnabledFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.SaveCronJob(ctx, &domain.CronJob{ID: "j1", Enabled: true})
	_ = s.SaveCronJob(ctx, &domain.CronJob{ID: "j2", Enabled: false})

	jobs, err := s.ListEnabledCronJobs(ctx)
	if err != nil {
		t.Fatalf("ListEnabledCronJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("expected only j1, got %+v", jobs)
	}
}

func TestStore_MarkInboundSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first, err := s.MarkInboundSeen(ctx, "slack", "evt-1")
	if err != nil || !first {
		t.Fatalf("expected first delivery true, got %v err %v", first, err)
	}
	second, err := s.MarkInboundSeen(ctx, "slack", "evt-1")
	if err != nil || second {
		t.Fatalf("expected duplicate delivery false, got %v err %v", second, err)
	}
}

var _ storage.Store = (*Store)(nil)
