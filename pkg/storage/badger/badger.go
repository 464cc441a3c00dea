// Package badger implements pkg/storage.Store on top of an embedded Badger
// key-value engine, the same way the teacher's workflow storage indexes
// entities by secondary key prefixes instead of SQL tables.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// Config holds configuration for the Badger-backed store.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// Store implements storage.Store using Badger.
type Store struct {
	db *badger.DB
}

// New opens (or creates) a Badger-backed structured store.
func New(cfg *Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage/badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &domain.DbError{Op: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.DbError{Op: "unmarshal", Cause: err}
	}
	return nil
}

// --- key layout ---

func memoryKey(id string) []byte { return []byte("memory:" + id) }
func memoryChannelIndexKey(channelID, id string) []byte {
	return []byte(fmt.Sprintf("memory:index:channel:%s:%s", channelID, id))
}
func assocKey(id string) []byte { return []byte("assoc:" + id) }
func assocSourceIndexKey(sourceID, id string) []byte {
	return []byte(fmt.Sprintf("assoc:index:source:%s:%s", sourceID, id))
}
func assocTargetIndexKey(targetID, id string) []byte {
	return []byte(fmt.Sprintf("assoc:index:target:%s:%s", targetID, id))
}
func turnKey(channelID string, seq int64) []byte {
	return []byte(fmt.Sprintf("turn:%s:%020d", channelID, seq))
}
func turnSeqCounterKey(channelID string) []byte { return []byte("turn:seq:" + channelID) }
func archiveTurnKey(channelID string, seq int64) []byte {
	return []byte(fmt.Sprintf("turn:archive:%s:%020d", channelID, seq))
}
func summaryKey(channelID string, start int64) []byte {
	return []byte(fmt.Sprintf("summary:%s:%020d", channelID, start))
}
func cronKey(id string) []byte      { return []byte("cron:" + id) }
func cronExecKey(jobID string, t time.Time) []byte {
	return []byte(fmt.Sprintf("cron:exec:%s:%020d", jobID, t.UnixNano()))
}
func inboundSeenKey(source, id string) []byte {
	return []byte(fmt.Sprintf("inbound:seen:%s:%s", source, id))
}

// --- memories ---

func (s *Store) SaveMemory(ctx context.Context, m *domain.Memory) error {
	m.ClampImportance()
	data, err := serialize(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(memoryKey(m.ID), data); err != nil {
			return err
		}
		if m.ChannelID != "" {
			if err := txn.Set(memoryChannelIndexKey(m.ChannelID, m.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) getMemoryTxn(txn *badger.Txn, id string) (*domain.Memory, error) {
	item, err := txn.Get(memoryKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, &domain.NotFoundError{EntityType: "memory", ID: id}
		}
		return nil, err
	}
	var m domain.Memory
	err = item.Value(func(val []byte) error { return deserialize(val, &m) })
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*domain.Memory, error) {
	var m *domain.Memory
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = s.getMemoryTxn(txn, id)
		return err
	})
	return m, err
}

// TouchMemory bumps last_accessed_at and access_count. Failures here are
// non-critical per spec.md §4.1 and should be logged, never propagated,
// by the caller.
func (s *Store) TouchMemory(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		m, err := s.getMemoryTxn(txn, id)
		if err != nil {
			return err
		}
		m.LastAccessedAt = time.Now().UTC()
		m.AccessCount++
		data, err := serialize(m)
		if err != nil {
			return err
		}
		return txn.Set(memoryKey(id), data)
	})
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		m, err := s.getMemoryTxn(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(memoryKey(id)); err != nil {
			return err
		}
		if m.ChannelID != "" {
			_ = txn.Delete(memoryChannelIndexKey(m.ChannelID, id))
		}
		return nil
	})
}

func (s *Store) ListMemories(ctx context.Context, filter storage.MemoryFilter) ([]*domain.Memory, error) {
	var out []*domain.Memory
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("memory:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.Contains(key, ":index:") {
				continue
			}
			var m domain.Memory
			if err := item.Value(func(val []byte) error { return deserialize(val, &m) }); err != nil {
				continue
			}
			if !matchesFilter(&m, filter) {
				continue
			}
			mm := m
			out = append(out, &mm)
		}
		return nil
	})
	return out, err
}

func matchesFilter(m *domain.Memory, f storage.MemoryFilter) bool {
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

// --- associations ---

func (s *Store) SaveAssociation(ctx context.Context, a *domain.Association) error {
	data, err := serialize(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(assocKey(a.ID), data); err != nil {
			return err
		}
		if err := txn.Set(assocSourceIndexKey(a.SourceID, a.ID), nil); err != nil {
			return err
		}
		return txn.Set(assocTargetIndexKey(a.TargetID, a.ID), nil)
	})
}

func (s *Store) listByIndexPrefix(prefix string) ([]*domain.Association, error) {
	var out []*domain.Association
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			id := key[strings.LastIndex(key, ":")+1:]
			item, err := txn.Get(assocKey(id))
			if err != nil {
				continue
			}
			var a domain.Association
			if err := item.Value(func(val []byte) error { return deserialize(val, &a) }); err != nil {
				continue
			}
			out = append(out, &a)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListOutgoing(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	return s.listByIndexPrefix(fmt.Sprintf("assoc:index:source:%s:", memoryID))
}

func (s *Store) ListIncoming(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	return s.listByIndexPrefix(fmt.Sprintf("assoc:index:target:%s:", memoryID))
}

// DeleteAssociationsFor removes every edge touching memoryID, cascading the
// invariant that removing an endpoint removes the edge.
func (s *Store) DeleteAssociationsFor(ctx context.Context, memoryID string) error {
	out, err := s.ListOutgoing(ctx, memoryID)
	if err != nil {
		return err
	}
	in, err := s.ListIncoming(ctx, memoryID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, a := range append(out, in...) {
			_ = txn.Delete(assocKey(a.ID))
			_ = txn.Delete(assocSourceIndexKey(a.SourceID, a.ID))
			_ = txn.Delete(assocTargetIndexKey(a.TargetID, a.ID))
		}
		return nil
	})
}

// --- conversation turns ---

func (s *Store) NextSequence(ctx context.Context, channelID string) (int64, error) {
	var next int64
	err := s.db.Update(func(txn *badger.Txn) error {
		var cur int64
		item, err := txn.Get(turnSeqCounterKey(channelID))
		if err == nil {
			_ = item.Value(func(val []byte) error {
				cur, _ = strconv.ParseInt(string(val), 10, 64)
				return nil
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		next = cur + 1
		return txn.Set(turnSeqCounterKey(channelID), []byte(strconv.FormatInt(next, 10)))
	})
	return next, err
}

func (s *Store) SaveTurn(ctx context.Context, t *domain.ConversationTurn) error {
	data, err := serialize(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := turnKey(t.ChannelID, t.Sequence)
		if _, err := txn.Get(key); err == nil {
			return &domain.DuplicateError{EntityType: "conversation_turn",
				Key: fmt.Sprintf("%s:%d", t.ChannelID, t.Sequence)}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *Store) ListTurns(ctx context.Context, channelID string, fromSeq, toSeq int64) ([]*domain.ConversationTurn, error) {
	var out []*domain.ConversationTurn
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("turn:%s:", channelID))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var t domain.ConversationTurn
			if err := it.Item().Value(func(val []byte) error { return deserialize(val, &t) }); err != nil {
				continue
			}
			if t.Sequence < fromSeq || (toSeq > 0 && t.Sequence > toSeq) {
				continue
			}
			out = append(out, &t)
		}
		return nil
	})
	return out, err
}

// ArchiveAndRemoveTurns moves the turns covered by r into the archive
// namespace and removes them from the live namespace, preserving spec.md's
// invariant that live ∪ archived ∪ summary-covered == the original range.
func (s *Store) ArchiveAndRemoveTurns(ctx context.Context, r storage.TurnRange) error {
	turns, err := s.ListTurns(ctx, r.ChannelID, r.Start, r.End)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, t := range turns {
			data, err := serialize(t)
			if err != nil {
				return err
			}
			if err := txn.Set(archiveTurnKey(r.ChannelID, t.Sequence), data); err != nil {
				return err
			}
			if err := txn.Delete(turnKey(r.ChannelID, t.Sequence)); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- compaction ---

func (s *Store) SaveCompactionSummary(ctx context.Context, sm *domain.CompactionSummary) error {
	data, err := serialize(sm)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(summaryKey(sm.ChannelID, sm.StartSequence), data)
	})
}

func (s *Store) ListCompactionSummaries(ctx context.Context, channelID string) ([]*domain.CompactionSummary, error) {
	var out []*domain.CompactionSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("summary:%s:", channelID))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var sm domain.CompactionSummary
			if err := it.Item().Value(func(val []byte) error { return deserialize(val, &sm) }); err != nil {
				continue
			}
			out = append(out, &sm)
		}
		return nil
	})
	return out, err
}

// --- cron ---

func (s *Store) SaveCronJob(ctx context.Context, j *domain.CronJob) error {
	data, err := serialize(j)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error { return txn.Set(cronKey(j.ID), data) })
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*domain.CronJob, error) {
	var j domain.CronJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cronKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return &domain.NotFoundError{EntityType: "cron_job", ID: id}
			}
			return err
		}
		return item.Value(func(val []byte) error { return deserialize(val, &j) })
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) ListEnabledCronJobs(ctx context.Context) ([]*domain.CronJob, error) {
	var out []*domain.CronJob
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("cron:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, "cron:exec:") {
				continue
			}
			var j domain.CronJob
			if err := it.Item().Value(func(val []byte) error { return deserialize(val, &j) }); err != nil {
				continue
			}
			if !j.Enabled {
				continue
			}
			out = append(out, &j)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error { return txn.Delete(cronKey(id)) })
}

func (s *Store) RecordCronExecution(ctx context.Context, e *domain.CronExecution) error {
	data, err := serialize(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cronExecKey(e.JobID, e.ExecutedAt), data)
	})
}

// --- inbound dedup ---

func (s *Store) MarkInboundSeen(ctx context.Context, source, id string) (bool, error) {
	firstSeen := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := inboundSeenKey(source, id)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		firstSeen = true
		return txn.Set(key, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
	return firstSeen, err
}
