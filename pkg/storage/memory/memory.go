// Package memory provides an in-process, map-based implementation of
// storage.Store for tests and single-shot tooling, mirroring the teacher's
// in-memory workflow store's deep-copy-on-access discipline.
package memory

import (
	"context"
	"sync"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// Store is an in-memory storage.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	memories    map[string]*domain.Memory
	assocs      map[string]*domain.Association
	turns       map[string]map[int64]*domain.ConversationTurn
	seqs        map[string]int64
	summaries   map[string][]*domain.CompactionSummary
	cronJobs    map[string]*domain.CronJob
	cronExecs   map[string][]*domain.CronExecution
	inboundSeen map[string]struct{}
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		memories:    make(map[string]*domain.Memory),
		assocs:      make(map[string]*domain.Association),
		turns:       make(map[string]map[int64]*domain.ConversationTurn),
		seqs:        make(map[string]int64),
		summaries:   make(map[string][]*domain.CompactionSummary),
		cronJobs:    make(map[string]*domain.CronJob),
		cronExecs:   make(map[string][]*domain.CronExecution),
		inboundSeen: make(map[string]struct{}),
	}
}

func cloneMemory(m *domain.Memory) *domain.Memory                  { cp := *m; return &cp }
func cloneAssoc(a *domain.Association) *domain.Association        { cp := *a; return &cp }
func cloneTurn(t *domain.ConversationTurn) *domain.ConversationTurn { cp := *t; return &cp }
func cloneSummary(s *domain.CompactionSummary) *domain.CompactionSummary { cp := *s; return &cp }
func cloneCron(j *domain.CronJob) *domain.CronJob                  { cp := *j; return &cp }

func (s *Store) Close() error { return nil }

func (s *Store) SaveMemory(ctx context.Context, m *domain.Memory) error {
	m.ClampImportance()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, &domain.NotFoundError{EntityType: "memory", ID: id}
	}
	return cloneMemory(m), nil
}

func (s *Store) TouchMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return &domain.NotFoundError{EntityType: "memory", ID: id}
	}
	m.AccessCount++
	return nil
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return &domain.NotFoundError{EntityType: "memory", ID: id}
	}
	delete(s.memories, id)
	return nil
}

func (s *Store) ListMemories(ctx context.Context, filter storage.MemoryFilter) ([]*domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Memory
	for _, m := range s.memories {
		if !matches(m, filter) {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	return out, nil
}

func matches(m *domain.Memory, f storage.MemoryFilter) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.MemoryType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ChannelID != "" {
		if m.ChannelID != f.ChannelID && !(f.IncludeGlobal && m.ChannelID == "") {
			return false
		}
	}
	if f.ImportanceMin > 0 && m.Importance < f.ImportanceMin {
		return false
	}
	return true
}

func (s *Store) SaveAssociation(ctx context.Context, a *domain.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assocs[a.ID] = cloneAssoc(a)
	return nil
}

func (s *Store) ListOutgoing(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Association
	for _, a := range s.assocs {
		if a.SourceID == memoryID {
			out = append(out, cloneAssoc(a))
		}
	}
	return out, nil
}

func (s *Store) ListIncoming(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Association
	for _, a := range s.assocs {
		if a.TargetID == memoryID {
			out = append(out, cloneAssoc(a))
		}
	}
	return out, nil
}

func (s *Store) DeleteAssociationsFor(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.assocs {
		if a.SourceID == memoryID || a.TargetID == memoryID {
			delete(s.assocs, id)
		}
	}
	return nil
}

func (s *Store) NextSequence(ctx context.Context, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[channelID]++
	return s.seqs[channelID], nil
}

func (s *Store) SaveTurn(ctx context.Context, t *domain.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.turns[t.ChannelID]
	if !ok {
		ch = make(map[int64]*domain.ConversationTurn)
		s.turns[t.ChannelID] = ch
	}
	if _, exists := ch[t.Sequence]; exists {
		return &domain.DuplicateError{EntityType: "conversation_turn", Key: t.ChannelID}
	}
	ch[t.Sequence] = cloneTurn(t)
	return nil
}

func (s *Store) ListTurns(ctx context.Context, channelID string, fromSeq, toSeq int64) ([]*domain.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ConversationTurn
	for seq, t := range s.turns[channelID] {
		if seq < fromSeq || (toSeq > 0 && seq > toSeq) {
			continue
		}
		out = append(out, cloneTurn(t))
	}
	return out, nil
}

func (s *Store) ArchiveAndRemoveTurns(ctx context.Context, r storage.TurnRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.turns[r.ChannelID]
	if !ok {
		return nil
	}
	for seq := range ch {
		if seq >= r.Start && seq <= r.End {
			delete(ch, seq)
		}
	}
	return nil
}

func (s *Store) SaveCompactionSummary(ctx context.Context, sm *domain.CompactionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sm.ChannelID] = append(s.summaries[sm.ChannelID], cloneSummary(sm))
	return nil
}

func (s *Store) ListCompactionSummaries(ctx context.Context, channelID string) ([]*domain.CompactionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CompactionSummary
	for _, sm := range s.summaries[channelID] {
		out = append(out, cloneSummary(sm))
	}
	return out, nil
}

func (s *Store) SaveCronJob(ctx context.Context, j *domain.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronJobs[j.ID] = cloneCron(j)
	return nil
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.cronJobs[id]
	if !ok {
		return nil, &domain.NotFoundError{EntityType: "cron_job", ID: id}
	}
	return cloneCron(j), nil
}

func (s *Store) ListEnabledCronJobs(ctx context.Context) ([]*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CronJob
	for _, j := range s.cronJobs {
		if j.Enabled {
			out = append(out, cloneCron(j))
		}
	}
	return out, nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cronJobs, id)
	return nil
}

func (s *Store) RecordCronExecution(ctx context.Context, e *domain.CronExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.cronExecs[e.JobID] = append(s.cronExecs[e.JobID], &cp)
	return nil
}

func (s *Store) MarkInboundSeen(ctx context.Context, source, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := source + ":" + id
	if _, ok := s.inboundSeen[key]; ok {
		return false, nil
	}
	s.inboundSeen[key] = struct{}{}
	return true, nil
}

var _ storage.Store = (*Store)(nil)
