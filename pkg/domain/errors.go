package domain

import "fmt"

// ConfigError reports a configuration resolution or validation failure.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s", e.Reason) }

// DbError reports a structured-store failure.
type DbError struct {
	Op    string
	Cause error
}

func (e *DbError) Error() string { return fmt.Sprintf("db: %s: %v", e.Op, e.Cause) }
func (e *DbError) Unwrap() error { return e.Cause }

// LlmReason enumerates LlmError subtypes.
type LlmReason string

const (
	LlmRateLimited            LlmReason = "rate_limited"
	LlmProviderDown           LlmReason = "provider_down"
	LlmTimeout                LlmReason = "timeout"
	LlmBadRequest             LlmReason = "bad_request"
	LlmContextLengthExceeded  LlmReason = "context_length_exceeded"
	LlmAuthError              LlmReason = "auth_error"
	LlmOther                  LlmReason = "other"
)

// LlmError reports a provider call failure, tagged with a reason subtype.
type LlmError struct {
	Reason LlmReason
	Model  string
	Cause  error
}

func (e *LlmError) Error() string {
	return fmt.Sprintf("llm: %s (model=%s): %v", e.Reason, e.Model, e.Cause)
}
func (e *LlmError) Unwrap() error { return e.Cause }

// Retriable reports whether the router should attempt a fallback for this error.
func (e *LlmError) Retriable() bool {
	switch e.Reason {
	case LlmRateLimited, LlmProviderDown, LlmTimeout:
		return true
	default:
		return false
	}
}

// MemoryError reports a memory-store or search failure.
type MemoryError struct {
	Op    string
	Cause error
}

func (e *MemoryError) Error() string { return fmt.Sprintf("memory: %s: %v", e.Op, e.Cause) }
func (e *MemoryError) Unwrap() error { return e.Cause }

// AgentReason enumerates AgentError subtypes; these represent completions,
// not failures, of a Branch/Worker run.
type AgentReason string

const (
	AgentMaxTurnsReached AgentReason = "max_turns_reached"
	AgentCancelled       AgentReason = "cancelled"
	AgentTimeout         AgentReason = "timeout"
	AgentToolFailed      AgentReason = "tool_failed"
)

// AgentError carries a partial result for non-error process completions,
// or a tool failure with a name and reason.
type AgentError struct {
	Reason   AgentReason
	Partial  string
	ToolName string
	ToolErr  error
}

func (e *AgentError) Error() string {
	if e.Reason == AgentToolFailed {
		return fmt.Sprintf("agent: tool %q failed: %v", e.ToolName, e.ToolErr)
	}
	return fmt.Sprintf("agent: %s", e.Reason)
}

// SecretsError reports a secrets-store failure.
type SecretsError struct {
	Op    string
	Cause error
}

func (e *SecretsError) Error() string { return fmt.Sprintf("secrets: %s: %v", e.Op, e.Cause) }
func (e *SecretsError) Unwrap() error { return e.Cause }

// MessagingError reports an adapter-facing delivery failure.
type MessagingError struct {
	Adapter string
	Cause   error
}

func (e *MessagingError) Error() string {
	return fmt.Sprintf("messaging: %s: %v", e.Adapter, e.Cause)
}
func (e *MessagingError) Unwrap() error { return e.Cause }

// NotFoundError indicates a requested entity does not exist.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// DuplicateError indicates a uniqueness invariant was violated.
type DuplicateError struct {
	EntityType string
	Key        string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.EntityType, e.Key)
}
