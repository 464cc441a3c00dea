// Package domain defines the persisted data model shared across an agent's
// processes: memories, associations, conversation turns, compaction
// summaries, cron jobs, process identities, and host-level bindings.
package domain

import "time"

// MemoryType enumerates the kinds of memory records the system persists.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryPreference  MemoryType = "preference"
	MemoryDecision    MemoryType = "decision"
	MemoryIdentity    MemoryType = "identity"
	MemoryEvent       MemoryType = "event"
	MemoryObservation MemoryType = "observation"
	MemoryGoal        MemoryType = "goal"
	MemoryTodo        MemoryType = "todo"
)

// Memory is a single persisted memory record.
type Memory struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	MemoryType     MemoryType `json:"memory_type"`
	Importance     float64    `json:"importance"`
	Source         string     `json:"source,omitempty"`
	ChannelID      string     `json:"channel_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	AccessCount    int64      `json:"access_count"`
	Indexed        bool       `json:"indexed"`
}

// ClampImportance enforces the [0,1] invariant, clamping at write time.
func (m *Memory) ClampImportance() {
	switch {
	case m.Importance < 0:
		m.Importance = 0
	case m.Importance > 1:
		m.Importance = 1
	}
}

// RelationType enumerates the directed relation kinds between two memories.
type RelationType string

const (
	RelationUpdates     RelationType = "updates"
	RelationContradicts RelationType = "contradicts"
	RelationCausedBy    RelationType = "caused_by"
	RelationRelatedTo   RelationType = "related_to"
	RelationSupports    RelationType = "supports"
	RelationRefutes     RelationType = "refutes"
	RelationElaborates  RelationType = "elaborates"
)

// Association is a directed, weighted edge between two memories.
// Uniqueness is (SourceID, TargetID, Relation); the graph may be cyclic.
type Association struct {
	ID        string       `json:"id"`
	SourceID  string       `json:"source_id"`
	TargetID  string       `json:"target_id"`
	Relation  RelationType `json:"relation_type"`
	Weight    float64      `json:"weight"`
	CreatedAt time.Time    `json:"created_at"`
}

// ConversationTurn is one inbound/outbound exchange within a channel.
// (ChannelID, Sequence) is unique; Sequence is a dense per-channel ordinal.
type ConversationTurn struct {
	ChannelID string    `json:"channel_id"`
	Sequence  int64     `json:"sequence"`
	Inbound   string    `json:"inbound"`
	Outbound  string    `json:"outbound,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CompactionSummary replaces a contiguous turn range with prose.
type CompactionSummary struct {
	ChannelID     string    `json:"channel_id"`
	StartSequence int64     `json:"start_sequence"`
	EndSequence   int64     `json:"end_sequence"`
	Summary       string    `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// CronJob is a recurring heartbeat prompt delivered to a routing target.
type CronJob struct {
	ID               string    `json:"id"`
	Prompt           string    `json:"prompt"`
	IntervalSecs     int64     `json:"interval_secs" validate:"min=1"`
	DeliveryTarget   string    `json:"delivery_target"`
	ActiveStartHour  *int      `json:"active_start_hour,omitempty" validate:"omitempty,min=0,max=23"`
	ActiveEndHour    *int      `json:"active_end_hour,omitempty" validate:"omitempty,min=0,max=23"`
	Enabled          bool      `json:"enabled"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	CreatedAt        time.Time `json:"created_at"`
}

// InActiveWindow reports whether the given local hour falls within the
// job's configured active window. A job without a window is always active.
func (c *CronJob) InActiveWindow(localHour int) bool {
	if c.ActiveStartHour == nil || c.ActiveEndHour == nil {
		return true
	}
	start, end := *c.ActiveStartHour, *c.ActiveEndHour
	if start <= end {
		return localHour >= start && localHour < end
	}
	// Window wraps past midnight.
	return localHour >= start || localHour < end
}

// CronExecution records one run of a CronJob.
type CronExecution struct {
	JobID         string    `json:"job_id"`
	Success       bool      `json:"success"`
	ResultSummary string    `json:"result_summary"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// ProcessKind enumerates the process tree node types.
type ProcessKind string

const (
	ProcessChannel   ProcessKind = "channel"
	ProcessBranch    ProcessKind = "branch"
	ProcessWorker    ProcessKind = "worker"
	ProcessCompactor ProcessKind = "compactor"
	ProcessCortex    ProcessKind = "cortex"
)

// ProcessID identifies one running process within an agent.
type ProcessID struct {
	ID      string      `json:"id"`
	Kind    ProcessKind `json:"kind"`
	AgentID string      `json:"agent_id"`

	// ConversationID is set for Channel processes only.
	ConversationID string `json:"conversation_id,omitempty"`
	// TaskType is set for Worker processes only.
	TaskType string `json:"task_type,omitempty"`
}

// Binding maps an inbound message's platform identity to an agent, before
// any process exists for the conversation.
type Binding struct {
	// Platform is empty to match any adapter (a wildcard binding).
	Platform        string `json:"platform,omitempty"`
	ChannelOrChatID string `json:"channel_or_chat_id,omitempty"`
	SenderID        string `json:"sender_id,omitempty"`
	AgentID         string `json:"agent_id" validate:"required"`
}

// Matches reports whether the binding predicate matches the given identity.
// Empty fields on the binding are wildcards.
func (b Binding) Matches(platform, channelOrChatID, senderID string) bool {
	if b.Platform != "" && b.Platform != platform {
		return false
	}
	if b.ChannelOrChatID != "" && b.ChannelOrChatID != channelOrChatID {
		return false
	}
	if b.SenderID != "" && b.SenderID != senderID {
		return false
	}
	return true
}
