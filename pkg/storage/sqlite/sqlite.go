// Package sqlite implements pkg/storage.Store on an embedded, file-backed
// sqlite database via modernc.org/sqlite's pure-Go driver, for single-node
// deployments that want a queryable structured store without a Badger
// dependency or a MySQL server to operate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY, content TEXT, memory_type TEXT, importance REAL,
	source TEXT, channel_id TEXT, created_at TEXT, updated_at TEXT,
	last_accessed_at TEXT, access_count INTEGER, indexed INTEGER
);
CREATE INDEX IF NOT EXISTS idx_memories_channel ON memories(channel_id);

CREATE TABLE IF NOT EXISTS associations (
	id TEXT PRIMARY KEY, source_id TEXT, target_id TEXT, relation TEXT,
	weight REAL, created_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_assoc_source ON associations(source_id);
CREATE INDEX IF NOT EXISTS idx_assoc_target ON associations(target_id);

CREATE TABLE IF NOT EXISTS conversation_turns (
	channel_id TEXT, sequence INTEGER, inbound TEXT, outbound TEXT, created_at TEXT,
	PRIMARY KEY (channel_id, sequence)
);

CREATE TABLE IF NOT EXISTS archived_turns (
	channel_id TEXT, sequence INTEGER, inbound TEXT, outbound TEXT, created_at TEXT,
	PRIMARY KEY (channel_id, sequence)
);

CREATE TABLE IF NOT EXISTS turn_counters (channel_id TEXT PRIMARY KEY, next INTEGER);

CREATE TABLE IF NOT EXISTS compaction_summaries (
	channel_id TEXT, start_sequence INTEGER, end_sequence INTEGER, summary TEXT, created_at TEXT,
	PRIMARY KEY (channel_id, start_sequence)
);

CREATE TABLE IF NOT EXISTS cron_jobs (
	id TEXT PRIMARY KEY, prompt TEXT, interval_secs INTEGER, delivery_target TEXT,
	active_start_hour INTEGER, active_end_hour INTEGER, enabled INTEGER,
	consecutive_fails INTEGER, created_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_cron_enabled ON cron_jobs(enabled);

CREATE TABLE IF NOT EXISTS cron_executions (
	job_id TEXT, success INTEGER, result_summary TEXT, executed_at TEXT
);

CREATE TABLE IF NOT EXISTS inbound_seen (source TEXT, id TEXT, seen_at TEXT, PRIMARY KEY (source, id));
`

// Config holds settings for the embedded sqlite store.
type Config struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	Path string
}

// Store implements storage.Store on a database/sql handle over modernc's
// sqlite driver.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the sqlite database and applies the schema.
func New(cfg *Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc's driver serializes writers; avoid SQLITE_BUSY races
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("storage/sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func rfc(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- memories ---

func (s *Store) SaveMemory(ctx context.Context, m *domain.Memory) error {
	m.ClampImportance()
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories
		(id, content, memory_type, importance, source, channel_id, created_at, updated_at, last_accessed_at, access_count, indexed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, memory_type=excluded.memory_type,
			importance=excluded.importance, source=excluded.source, channel_id=excluded.channel_id,
			updated_at=excluded.updated_at, last_accessed_at=excluded.last_accessed_at,
			access_count=excluded.access_count, indexed=excluded.indexed`,
		m.ID, m.Content, string(m.MemoryType), m.Importance, m.Source, m.ChannelID,
		rfc(m.CreatedAt), rfc(m.UpdatedAt), rfc(m.LastAccessedAt), m.AccessCount, m.Indexed)
	return err
}

func (s *Store) scanMemory(row *sql.Row) (*domain.Memory, error) {
	var m domain.Memory
	var memType, created, updated, lastAccessed string
	err := row.Scan(&m.ID, &m.Content, &memType, &m.Importance, &m.Source, &m.ChannelID,
		&created, &updated, &lastAccessed, &m.AccessCount, &m.Indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.MemoryType = domain.MemoryType(memType)
	m.CreatedAt, m.UpdatedAt, m.LastAccessedAt = parseTime(created), parseTime(updated), parseTime(lastAccessed)
	return &m, nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*domain.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, content, memory_type, importance, source, channel_id,
		created_at, updated_at, last_accessed_at, access_count, indexed FROM memories WHERE id = ?`, id)
	m, err := s.scanMemory(row)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &domain.NotFoundError{EntityType: "memory", ID: id}
	}
	return m, nil
}

func (s *Store) TouchMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_accessed_at = ?, access_count = access_count + 1 WHERE id = ?`,
		rfc(time.Now()), id)
	return err
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

func (s *Store) ListMemories(ctx context.Context, filter storage.MemoryFilter) ([]*domain.Memory, error) {
	q := `SELECT id, content, memory_type, importance, source, channel_id,
		created_at, updated_at, last_accessed_at, access_count, indexed FROM memories WHERE 1=1`
	var args []any
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		q += fmt.Sprintf(" AND memory_type IN (%s)", strings.Join(placeholders, ","))
	}
	if filter.ChannelID != "" {
		if filter.IncludeGlobal {
			q += " AND (channel_id = ? OR channel_id = '')"
		} else {
			q += " AND channel_id = ?"
		}
		args = append(args, filter.ChannelID)
	}
	if filter.ImportanceMin > 0 {
		q += " AND importance >= ?"
		args = append(args, filter.ImportanceMin)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Memory
	for rows.Next() {
		var m domain.Memory
		var memType, created, updated, lastAccessed string
		if err := rows.Scan(&m.ID, &m.Content, &memType, &m.Importance, &m.Source, &m.ChannelID,
			&created, &updated, &lastAccessed, &m.AccessCount, &m.Indexed); err != nil {
			return nil, err
		}
		m.MemoryType = domain.MemoryType(memType)
		m.CreatedAt, m.UpdatedAt, m.LastAccessedAt = parseTime(created), parseTime(updated), parseTime(lastAccessed)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- associations ---

func (s *Store) SaveAssociation(ctx context.Context, a *domain.Association) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO associations (id, source_id, target_id, relation, weight, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET source_id=excluded.source_id, target_id=excluded.target_id,
			relation=excluded.relation, weight=excluded.weight`,
		a.ID, a.SourceID, a.TargetID, string(a.Relation), a.Weight, rfc(a.CreatedAt))
	return err
}

func (s *Store) listAssociations(ctx context.Context, col, id string) ([]*domain.Association, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, source_id, target_id, relation, weight, created_at FROM associations WHERE %s = ?`, col), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Association
	for rows.Next() {
		var a domain.Association
		var relation, created string
		if err := rows.Scan(&a.ID, &a.SourceID, &a.TargetID, &relation, &a.Weight, &created); err != nil {
			return nil, err
		}
		a.Relation = domain.RelationType(relation)
		a.CreatedAt = parseTime(created)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) ListOutgoing(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	return s.listAssociations(ctx, "source_id", memoryID)
}

func (s *Store) ListIncoming(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	return s.listAssociations(ctx, "target_id", memoryID)
}

func (s *Store) DeleteAssociationsFor(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM associations WHERE source_id = ? OR target_id = ?`, memoryID, memoryID)
	return err
}

// --- conversation turns ---

func (s *Store) NextSequence(ctx context.Context, channelID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cur int64
	err = tx.QueryRowContext(ctx, `SELECT next FROM turn_counters WHERE channel_id = ?`, channelID).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	next := cur + 1
	if _, err := tx.ExecContext(ctx, `INSERT INTO turn_counters (channel_id, next) VALUES (?,?)
		ON CONFLICT(channel_id) DO UPDATE SET next = excluded.next`, channelID, next); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}

func (s *Store) SaveTurn(ctx context.Context, t *domain.ConversationTurn) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversation_turns WHERE channel_id = ? AND sequence = ?`,
		t.ChannelID, t.Sequence).Scan(&exists)
	if err == nil {
		return &domain.DuplicateError{EntityType: "conversation_turn",
			Key: fmt.Sprintf("%s:%d", t.ChannelID, t.Sequence)}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversation_turns (channel_id, sequence, inbound, outbound, created_at)
		VALUES (?,?,?,?,?)`, t.ChannelID, t.Sequence, t.Inbound, t.Outbound, rfc(t.CreatedAt))
	return err
}

func (s *Store) ListTurns(ctx context.Context, channelID string, fromSeq, toSeq int64) ([]*domain.ConversationTurn, error) {
	q := `SELECT channel_id, sequence, inbound, outbound, created_at FROM conversation_turns
		WHERE channel_id = ? AND sequence >= ?`
	args := []any{channelID, fromSeq}
	if toSeq > 0 {
		q += " AND sequence <= ?"
		args = append(args, toSeq)
	}
	q += " ORDER BY sequence ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var created string
		if err := rows.Scan(&t.ChannelID, &t.Sequence, &t.Inbound, &t.Outbound, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) ArchiveAndRemoveTurns(ctx context.Context, r storage.TurnRange) error {
	turns, err := s.ListTurns(ctx, r.ChannelID, r.Start, r.End)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range turns {
		if _, err := tx.ExecContext(ctx, `INSERT INTO archived_turns (channel_id, sequence, inbound, outbound, created_at)
			VALUES (?,?,?,?,?)`, t.ChannelID, t.Sequence, t.Inbound, t.Outbound, rfc(t.CreatedAt)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_turns WHERE channel_id = ? AND sequence = ?`,
			t.ChannelID, t.Sequence); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- compaction ---

func (s *Store) SaveCompactionSummary(ctx context.Context, sm *domain.CompactionSummary) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO compaction_summaries
		(channel_id, start_sequence, end_sequence, summary, created_at) VALUES (?,?,?,?,?)
		ON CONFLICT(channel_id, start_sequence) DO UPDATE SET end_sequence=excluded.end_sequence, summary=excluded.summary`,
		sm.ChannelID, sm.StartSequence, sm.EndSequence, sm.Summary, rfc(sm.CreatedAt))
	return err
}

func (s *Store) ListCompactionSummaries(ctx context.Context, channelID string) ([]*domain.CompactionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, start_sequence, end_sequence, summary, created_at
		FROM compaction_summaries WHERE channel_id = ? ORDER BY start_sequence ASC`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CompactionSummary
	for rows.Next() {
		var sm domain.CompactionSummary
		var created string
		if err := rows.Scan(&sm.ChannelID, &sm.StartSequence, &sm.EndSequence, &sm.Summary, &created); err != nil {
			return nil, err
		}
		sm.CreatedAt = parseTime(created)
		out = append(out, &sm)
	}
	return out, rows.Err()
}

// --- cron ---

func (s *Store) SaveCronJob(ctx context.Context, j *domain.CronJob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cron_jobs
		(id, prompt, interval_secs, delivery_target, active_start_hour, active_end_hour, enabled, consecutive_fails, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET prompt=excluded.prompt, interval_secs=excluded.interval_secs,
			delivery_target=excluded.delivery_target, active_start_hour=excluded.active_start_hour,
			active_end_hour=excluded.active_end_hour, enabled=excluded.enabled,
			consecutive_fails=excluded.consecutive_fails`,
		j.ID, j.Prompt, j.IntervalSecs, j.DeliveryTarget, j.ActiveStartHour, j.ActiveEndHour,
		j.Enabled, j.ConsecutiveFails, rfc(j.CreatedAt))
	return err
}

func (s *Store) scanCronJob(row *sql.Row) (*domain.CronJob, error) {
	var j domain.CronJob
	var created string
	err := row.Scan(&j.ID, &j.Prompt, &j.IntervalSecs, &j.DeliveryTarget, &j.ActiveStartHour,
		&j.ActiveEndHour, &j.Enabled, &j.ConsecutiveFails, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(created)
	return &j, nil
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*domain.CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, prompt, interval_secs, delivery_target, active_start_hour,
		active_end_hour, enabled, consecutive_fails, created_at FROM cron_jobs WHERE id = ?`, id)
	j, err := s.scanCronJob(row)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, &domain.NotFoundError{EntityType: "cron_job", ID: id}
	}
	return j, nil
}

func (s *Store) ListEnabledCronJobs(ctx context.Context) ([]*domain.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, prompt, interval_secs, delivery_target, active_start_hour,
		active_end_hour, enabled, consecutive_fails, created_at FROM cron_jobs WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CronJob
	for rows.Next() {
		var j domain.CronJob
		var created string
		if err := rows.Scan(&j.ID, &j.Prompt, &j.IntervalSecs, &j.DeliveryTarget, &j.ActiveStartHour,
			&j.ActiveEndHour, &j.Enabled, &j.ConsecutiveFails, &created); err != nil {
			return nil, err
		}
		j.CreatedAt = parseTime(created)
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	return err
}

func (s *Store) RecordCronExecution(ctx context.Context, e *domain.CronExecution) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cron_executions (job_id, success, result_summary, executed_at)
		VALUES (?,?,?,?)`, e.JobID, e.Success, e.ResultSummary, rfc(e.ExecutedAt))
	return err
}

// --- inbound dedup ---

func (s *Store) MarkInboundSeen(ctx context.Context, source, id string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO inbound_seen (source, id, seen_at) VALUES (?,?,?)`,
		source, id, rfc(time.Now()))
	if err == nil {
		return true, nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed") {
		return false, nil
	}
	return false, err
}

var _ storage.Store = (*Store)(nil)
