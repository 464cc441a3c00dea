package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrToolDisabled is returned when a tool's circuit breaker is open.
var ErrToolDisabled = fmt.Errorf("tool disabled for this run")

// ToolBreakers tracks one circuit breaker per tool name within a single
// process run: three consecutive failures of the same tool disable it for
// the rest of the run (spec §7 "3 strikes -> tool disabled for this run"),
// grounded on scrypster-memento's CircuitBreaker wrapping gobreaker, keyed
// per (process, tool) instead of per LLM provider.
type ToolBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewToolBreakers() *ToolBreakers {
	return &ToolBreakers{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *ToolBreakers) forTool(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Hour, // a run is short-lived; once tripped, stays open for the run
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	b.breakers[name] = cb
	return cb
}

// Call runs fn through the named tool's breaker, translating an open-circuit
// rejection into ErrToolDisabled so the loop can surface it to the model as
// an ordinary tool-call failure rather than a process-level error.
func (b *ToolBreakers) Call(ctx context.Context, tool string, fn func(ctx context.Context) (string, error)) (string, error) {
	cb := b.forTool(tool)
	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", ErrToolDisabled
		}
		return "", err
	}
	return result.(string), nil
}
