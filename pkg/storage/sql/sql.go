// Package sql implements pkg/storage.Store on a relational database through
// gorm, the same table-per-entity layout the teacher's saga store used for
// its MySQL-backed checkpoint log, adapted to the agent's memory/turn/cron
// schema instead of workflow checkpoints.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// Config holds settings for the gorm-backed store.
type Config struct {
	DSN          string
	MaxOpenConns int
}

// Store implements storage.Store on top of a gorm.DB.
type Store struct {
	db *gorm.DB
}

// New opens a MySQL connection and migrates the schema.
func New(cfg *Config) (*Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage/sql: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage/sql: underlying db: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.AutoMigrate(
		&memoryRow{}, &associationRow{}, &turnRow{}, &archivedTurnRow{},
		&turnCounterRow{}, &summaryRow{}, &cronJobRow{}, &cronExecRow{},
		&inboundSeenRow{},
	); err != nil {
		return nil, fmt.Errorf("storage/sql: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- row models ---

type memoryRow struct {
	ID             string `gorm:"primaryKey"`
	Content        string `gorm:"type:text"`
	MemoryType     string `gorm:"index"`
	Importance     float64
	Source         string
	ChannelID      string `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	Indexed        bool
}

func (memoryRow) TableName() string { return "memories" }

func rowFromMemory(m *domain.Memory) *memoryRow {
	return &memoryRow{
		ID: m.ID, Content: m.Content, MemoryType: string(m.MemoryType),
		Importance: m.Importance, Source: m.Source, ChannelID: m.ChannelID,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
		LastAccessedAt: m.LastAccessedAt, AccessCount: m.AccessCount, Indexed: m.Indexed,
	}
}

func (r *memoryRow) toDomain() *domain.Memory {
	return &domain.Memory{
		ID: r.ID, Content: r.Content, MemoryType: domain.MemoryType(r.MemoryType),
		Importance: r.Importance, Source: r.Source, ChannelID: r.ChannelID,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		LastAccessedAt: r.LastAccessedAt, AccessCount: r.AccessCount, Indexed: r.Indexed,
	}
}

type associationRow struct {
	ID        string `gorm:"primaryKey"`
	SourceID  string `gorm:"index"`
	TargetID  string `gorm:"index"`
	Relation  string
	Weight    float64
	CreatedAt time.Time
}

func (associationRow) TableName() string { return "associations" }

type turnRow struct {
	ChannelID string `gorm:"primaryKey"`
	Sequence  int64  `gorm:"primaryKey"`
	Inbound   string `gorm:"type:text"`
	Outbound  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (turnRow) TableName() string { return "conversation_turns" }

type archivedTurnRow turnRow

func (archivedTurnRow) TableName() string { return "archived_turns" }

type turnCounterRow struct {
	ChannelID string `gorm:"primaryKey"`
	Next      int64
}

func (turnCounterRow) TableName() string { return "turn_counters" }

type summaryRow struct {
	ChannelID     string `gorm:"primaryKey"`
	StartSequence int64  `gorm:"primaryKey"`
	EndSequence   int64
	Summary       string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (summaryRow) TableName() string { return "compaction_summaries" }

type cronJobRow struct {
	ID               string `gorm:"primaryKey"`
	Prompt           string `gorm:"type:text"`
	IntervalSecs     int64
	DeliveryTarget   string
	ActiveStartHour  *int
	ActiveEndHour    *int
	Enabled          bool `gorm:"index"`
	ConsecutiveFails int
	CreatedAt        time.Time
}

func (cronJobRow) TableName() string { return "cron_jobs" }

type cronExecRow struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	JobID         string `gorm:"index"`
	Success       bool
	ResultSummary string `gorm:"type:text"`
	ExecutedAt    time.Time
}

func (cronExecRow) TableName() string { return "cron_executions" }

type inboundSeenRow struct {
	Source   string `gorm:"primaryKey"`
	ID       string `gorm:"primaryKey"`
	SeenAt   time.Time
}

func (inboundSeenRow) TableName() string { return "inbound_seen" }

// --- memories ---

func (s *Store) SaveMemory(ctx context.Context, m *domain.Memory) error {
	m.ClampImportance()
	return s.db.WithContext(ctx).Save(rowFromMemory(m)).Error
}

func (s *Store) GetMemory(ctx context.Context, id string) (*domain.Memory, error) {
	var row memoryRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{EntityType: "memory", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) TouchMemory(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&memoryRow{}).Where("id = ?", id).Updates(map[string]any{
		"last_accessed_at": time.Now().UTC(),
		"access_count":     gorm.Expr("access_count + 1"),
	}).Error
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&memoryRow{}, "id = ?", id).Error
}

func (s *Store) ListMemories(ctx context.Context, filter storage.MemoryFilter) ([]*domain.Memory, error) {
	q := s.db.WithContext(ctx).Model(&memoryRow{})
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where("memory_type IN ?", types)
	}
	if filter.ChannelID != "" {
		if filter.IncludeGlobal {
			q = q.Where("channel_id = ? OR channel_id = ''", filter.ChannelID)
		} else {
			q = q.Where("channel_id = ?", filter.ChannelID)
		}
	}
	if filter.ImportanceMin > 0 {
		q = q.Where("importance >= ?", filter.ImportanceMin)
	}
	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Memory, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// --- associations ---

func (s *Store) SaveAssociation(ctx context.Context, a *domain.Association) error {
	return s.db.WithContext(ctx).Save(&associationRow{
		ID: a.ID, SourceID: a.SourceID, TargetID: a.TargetID,
		Relation: string(a.Relation), Weight: a.Weight, CreatedAt: a.CreatedAt,
	}).Error
}

func (s *Store) listAssociations(ctx context.Context, col, id string) ([]*domain.Association, error) {
	var rows []associationRow
	if err := s.db.WithContext(ctx).Where(col+" = ?", id).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Association, len(rows))
	for i, r := range rows {
		out[i] = &domain.Association{
			ID: r.ID, SourceID: r.SourceID, TargetID: r.TargetID,
			Relation: domain.RelationType(r.Relation), Weight: r.Weight, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) ListOutgoing(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	return s.listAssociations(ctx, "source_id", memoryID)
}

func (s *Store) ListIncoming(ctx context.Context, memoryID string) ([]*domain.Association, error) {
	return s.listAssociations(ctx, "target_id", memoryID)
}

func (s *Store) DeleteAssociationsFor(ctx context.Context, memoryID string) error {
	return s.db.WithContext(ctx).Where("source_id = ? OR target_id = ?", memoryID, memoryID).
		Delete(&associationRow{}).Error
}

// --- conversation turns ---

func (s *Store) NextSequence(ctx context.Context, channelID string) (int64, error) {
	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter turnCounterRow
		err := tx.Clauses().First(&counter, "channel_id = ?", channelID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = turnCounterRow{ChannelID: channelID, Next: 0}
		} else if err != nil {
			return err
		}
		next = counter.Next + 1
		counter.Next = next
		return tx.Save(&counter).Error
	})
	return next, err
}

func (s *Store) SaveTurn(ctx context.Context, t *domain.ConversationTurn) error {
	row := turnRow{ChannelID: t.ChannelID, Sequence: t.Sequence, Inbound: t.Inbound,
		Outbound: t.Outbound, CreatedAt: t.CreatedAt}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil && isDuplicateErr(err) {
		return &domain.DuplicateError{EntityType: "conversation_turn",
			Key: fmt.Sprintf("%s:%d", t.ChannelID, t.Sequence)}
	}
	return err
}

func isDuplicateErr(err error) bool {
	// gorm/mysql surfaces duplicate primary keys as a driver-specific error;
	// string-matching the MySQL 1062 code keeps this free of a direct
	// go-sql-driver/mysql import.
	return err != nil && (errorsContains(err.Error(), "1062") || errorsContains(err.Error(), "Duplicate entry"))
}

func errorsContains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func (s *Store) ListTurns(ctx context.Context, channelID string, fromSeq, toSeq int64) ([]*domain.ConversationTurn, error) {
	q := s.db.WithContext(ctx).Where("channel_id = ? AND sequence >= ?", channelID, fromSeq)
	if toSeq > 0 {
		q = q.Where("sequence <= ?", toSeq)
	}
	var rows []turnRow
	if err := q.Order("sequence asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ConversationTurn, len(rows))
	for i, r := range rows {
		out[i] = &domain.ConversationTurn{ChannelID: r.ChannelID, Sequence: r.Sequence,
			Inbound: r.Inbound, Outbound: r.Outbound, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (s *Store) ArchiveAndRemoveTurns(ctx context.Context, r storage.TurnRange) error {
	turns, err := s.ListTurns(ctx, r.ChannelID, r.Start, r.End)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range turns {
			archived := archivedTurnRow{ChannelID: t.ChannelID, Sequence: t.Sequence,
				Inbound: t.Inbound, Outbound: t.Outbound, CreatedAt: t.CreatedAt}
			if err := tx.Save(&archived).Error; err != nil {
				return err
			}
			if err := tx.Delete(&turnRow{}, "channel_id = ? AND sequence = ?", t.ChannelID, t.Sequence).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// --- compaction ---

func (s *Store) SaveCompactionSummary(ctx context.Context, sm *domain.CompactionSummary) error {
	return s.db.WithContext(ctx).Save(&summaryRow{
		ChannelID: sm.ChannelID, StartSequence: sm.StartSequence, EndSequence: sm.EndSequence,
		Summary: sm.Summary, CreatedAt: sm.CreatedAt,
	}).Error
}

func (s *Store) ListCompactionSummaries(ctx context.Context, channelID string) ([]*domain.CompactionSummary, error) {
	var rows []summaryRow
	if err := s.db.WithContext(ctx).Where("channel_id = ?", channelID).
		Order("start_sequence asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.CompactionSummary, len(rows))
	for i, r := range rows {
		out[i] = &domain.CompactionSummary{ChannelID: r.ChannelID, StartSequence: r.StartSequence,
			EndSequence: r.EndSequence, Summary: r.Summary, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// --- cron ---

func (s *Store) SaveCronJob(ctx context.Context, j *domain.CronJob) error {
	return s.db.WithContext(ctx).Save(&cronJobRow{
		ID: j.ID, Prompt: j.Prompt, IntervalSecs: j.IntervalSecs, DeliveryTarget: j.DeliveryTarget,
		ActiveStartHour: j.ActiveStartHour, ActiveEndHour: j.ActiveEndHour, Enabled: j.Enabled,
		ConsecutiveFails: j.ConsecutiveFails, CreatedAt: j.CreatedAt,
	}).Error
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*domain.CronJob, error) {
	var row cronJobRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{EntityType: "cron_job", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &domain.CronJob{ID: row.ID, Prompt: row.Prompt, IntervalSecs: row.IntervalSecs,
		DeliveryTarget: row.DeliveryTarget, ActiveStartHour: row.ActiveStartHour,
		ActiveEndHour: row.ActiveEndHour, Enabled: row.Enabled,
		ConsecutiveFails: row.ConsecutiveFails, CreatedAt: row.CreatedAt}, nil
}

func (s *Store) ListEnabledCronJobs(ctx context.Context) ([]*domain.CronJob, error) {
	var rows []cronJobRow
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.CronJob, len(rows))
	for i, row := range rows {
		out[i] = &domain.CronJob{ID: row.ID, Prompt: row.Prompt, IntervalSecs: row.IntervalSecs,
			DeliveryTarget: row.DeliveryTarget, ActiveStartHour: row.ActiveStartHour,
			ActiveEndHour: row.ActiveEndHour, Enabled: row.Enabled,
			ConsecutiveFails: row.ConsecutiveFails, CreatedAt: row.CreatedAt}
	}
	return out, nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&cronJobRow{}, "id = ?", id).Error
}

func (s *Store) RecordCronExecution(ctx context.Context, e *domain.CronExecution) error {
	return s.db.WithContext(ctx).Create(&cronExecRow{
		JobID: e.JobID, Success: e.Success, ResultSummary: e.ResultSummary, ExecutedAt: e.ExecutedAt,
	}).Error
}

// --- inbound dedup ---

func (s *Store) MarkInboundSeen(ctx context.Context, source, id string) (bool, error) {
	err := s.db.WithContext(ctx).Create(&inboundSeenRow{Source: source, ID: id, SeenAt: time.Now().UTC()}).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateErr(err) {
		return false, nil
	}
	return false, err
}

var _ storage.Store = (*Store)(nil)
