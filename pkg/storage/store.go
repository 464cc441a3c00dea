// Package storage provides the persistence abstraction for an agent's
// structured data: memories, associations, conversation turns, compaction
// summaries, and cron jobs. Vector/full-text indexing lives in pkg/memory;
// this package only covers the structured-table side of spec.md's data model.
package storage

import (
	"context"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// MemoryFilter restricts ListMemories results.
type MemoryFilter struct {
	Types          []domain.MemoryType
	ChannelID      string
	IncludeGlobal  bool // also include records with no channel scope
	ImportanceMin  float64
}

// TurnRange selects a contiguous [Start,End] sequence range for a channel.
type TurnRange struct {
	ChannelID string
	Start     int64
	End       int64
}

// Store is the structured-store contract every backend implements.
type Store interface {
	// Memories
	SaveMemory(ctx context.Context, m *domain.Memory) error
	GetMemory(ctx context.Context, id string) (*domain.Memory, error)
	TouchMemory(ctx context.Context, id string) error // last_accessed_at := now, access_count++
	DeleteMemory(ctx context.Context, id string) error
	ListMemories(ctx context.Context, filter MemoryFilter) ([]*domain.Memory, error)

	// Associations
	SaveAssociation(ctx context.Context, a *domain.Association) error
	ListOutgoing(ctx context.Context, memoryID string) ([]*domain.Association, error)
	ListIncoming(ctx context.Context, memoryID string) ([]*domain.Association, error)
	DeleteAssociationsFor(ctx context.Context, memoryID string) error

	// Conversation turns
	NextSequence(ctx context.Context, channelID string) (int64, error)
	SaveTurn(ctx context.Context, t *domain.ConversationTurn) error
	ListTurns(ctx context.Context, channelID string, fromSeq, toSeq int64) ([]*domain.ConversationTurn, error)
	ArchiveAndRemoveTurns(ctx context.Context, r TurnRange) error

	// Compaction
	SaveCompactionSummary(ctx context.Context, s *domain.CompactionSummary) error
	ListCompactionSummaries(ctx context.Context, channelID string) ([]*domain.CompactionSummary, error)

	// Cron / heartbeat
	SaveCronJob(ctx context.Context, j *domain.CronJob) error
	GetCronJob(ctx context.Context, id string) (*domain.CronJob, error)
	ListEnabledCronJobs(ctx context.Context) ([]*domain.CronJob, error)
	DeleteCronJob(ctx context.Context, id string) error
	RecordCronExecution(ctx context.Context, e *domain.CronExecution) error

	// Inbound dedup: has this (source, id) pair already been processed?
	MarkInboundSeen(ctx context.Context, source, id string) (firstSeen bool, err error)

	Close() error
}
