package domain

import "time"

// Attachment is one media item carried by an inbound message.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
	SizeBytes *int64 `json:"size_bytes,omitempty"`
}

// MessageContentKind discriminates InboundMessage.Content's variant.
type MessageContentKind string

const (
	ContentText  MessageContentKind = "text"
	ContentMedia MessageContentKind = "media"
)

// MessageContent is inbound content: either plain Text, or Media (optional
// caption text plus one or more attachments).
type MessageContent struct {
	Kind        MessageContentKind `json:"kind"`
	Text        string             `json:"text,omitempty"`
	Attachments []Attachment       `json:"attachments,omitempty"`
}

// InboundMessage is one adapter-produced event, per spec.md §6.
type InboundMessage struct {
	ID             string            `json:"id"`
	Source         string            `json:"source"` // stable adapter id
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Content        MessageContent    `json:"content"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OutboundKind discriminates OutboundResponse's variant.
type OutboundKind string

const (
	OutboundText        OutboundKind = "text"
	OutboundStreamStart  OutboundKind = "stream_start"
	OutboundStreamChunk  OutboundKind = "stream_chunk"
	OutboundStreamEnd    OutboundKind = "stream_end"
)

// OutboundResponse is one adapter-consumed outbound fragment, per spec.md §6.
type OutboundResponse struct {
	Kind OutboundKind `json:"kind"`
	Text string       `json:"text,omitempty"`
}

// StatusUpdateKind discriminates StatusUpdate's variant.
type StatusUpdateKind string

const (
	StatusThinking        StatusUpdateKind = "thinking"
	StatusToolStarted      StatusUpdateKind = "tool_started"
	StatusToolCompleted    StatusUpdateKind = "tool_completed"
	StatusBranchStarted    StatusUpdateKind = "branch_started"
	StatusWorkerStarted    StatusUpdateKind = "worker_started"
	StatusWorkerCompleted  StatusUpdateKind = "worker_completed"
)

// StatusUpdate is a proactive status notification an adapter may render
// out-of-band (e.g. a "typing" indicator), per spec.md §6.
type StatusUpdate struct {
	Kind     StatusUpdateKind `json:"kind"`
	ToolName string           `json:"tool_name,omitempty"`
	Task     string           `json:"task,omitempty"`
	Result   string           `json:"result,omitempty"`
}
