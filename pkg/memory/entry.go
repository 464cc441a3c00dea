package memory

// Stats holds aggregate statistics about one agent's memory store, reported
// by a Cortex bulletin's consolidation-opportunity section.
type Stats struct {
	// TotalEntries is the total number of stored memories.
	TotalEntries int `json:"total_entries"`

	// AverageImportance is the mean importance across all entries.
	AverageImportance float64 `json:"average_importance"`

	// ChannelCount is the number of distinct channels with scoped memories.
	ChannelCount int `json:"channel_count,omitempty"`

	// IndexedCount is the number of entries with a vector/BM25 index entry
	// (as opposed to rows saved with a failed embed).
	IndexedCount int `json:"indexed_count"`
}
