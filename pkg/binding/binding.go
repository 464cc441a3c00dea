// Package binding resolves an inbound message's platform identity to an
// agent id, before any process exists for the conversation (spec.md §3, §4
// "Binding").
package binding

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

var validate = validator.New()

// ErrNoMatch indicates no binding predicate matched the identity.
var ErrNoMatch = fmt.Errorf("binding: no agent bound for this identity")

// Table holds an ordered set of binding predicates. The first match wins,
// so operators list more specific bindings (exact sender) before wildcard
// ones (platform-only).
type Table struct {
	mu       sync.RWMutex
	bindings []domain.Binding
}

func NewTable(bindings ...domain.Binding) (*Table, error) {
	t := &Table{}
	for _, b := range bindings {
		if err := validate.Struct(b); err != nil {
			return nil, &domain.ConfigError{Reason: fmt.Sprintf("invalid binding: %v", err)}
		}
		t.bindings = append(t.bindings, b)
	}
	return t, nil
}

// Resolve returns the agent id for the first matching binding.
func (t *Table) Resolve(platform, channelOrChatID, senderID string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, b := range t.bindings {
		if b.Matches(platform, channelOrChatID, senderID) {
			return b.AgentID, nil
		}
	}
	return "", ErrNoMatch
}

// Add appends a new binding predicate at the end of the resolution order.
func (t *Table) Add(b domain.Binding) error {
	if err := validate.Struct(b); err != nil {
		return &domain.ConfigError{Reason: fmt.Sprintf("invalid binding: %v", err)}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings = append(t.bindings, b)
	return nil
}

// Bindings returns a snapshot of the current predicate list, in resolution order.
func (t *Table) Bindings() []domain.Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Binding, len(t.bindings))
	copy(out, t.bindings)
	return out
}
