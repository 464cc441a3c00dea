package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-run/kestrel/config"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/metrics"
)

// MaxFallbackAttempts bounds how many models resolve/call ever tries within
// one fallback walk, per spec.md §4.2.
const MaxFallbackAttempts = 3

// CooldownStore tracks model_id -> deadline. The default implementation is
// an in-process map guarded by a lock, mirroring pkg/lane/manager.go's
// single-writer/many-reader discipline; distributed_cooldown.go supplies a
// Redis-backed variant for multi-node deployments.
type CooldownStore interface {
	// InCooldown reports whether model is currently cooling down.
	InCooldown(ctx context.Context, model string) bool
	// SetCooldown marks model as cooling down until now+d.
	SetCooldown(ctx context.Context, model string, d time.Duration)
}

// memCooldownStore is the default single-process cooldown map.
type memCooldownStore struct {
	mu       sync.RWMutex
	deadline map[string]time.Time
}

func newMemCooldownStore() *memCooldownStore {
	return &memCooldownStore{deadline: make(map[string]time.Time)}
}

func (s *memCooldownStore) InCooldown(_ context.Context, model string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.deadline[model]
	return ok && time.Now().Before(until)
}

func (s *memCooldownStore) SetCooldown(_ context.Context, model string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline[model] = time.Now().Add(d)
}

// Router resolves a model id per call and dispatches through the matching
// provider, walking a fallback chain on retriable failure.
type Router struct {
	cfg        *config.LLMConfig
	providers  map[string]Provider
	cooldown   CooldownStore
	limiters   *limiterPool
	classifier *ComplexityClassifier
	metrics    *metrics.Manager
	logger     logger.Logger
}

// NewRouter builds a Router. providers maps a model id to the Provider that
// serves it (the same Provider instance may serve several model ids).
// cooldown defaults to an in-process map when nil.
func NewRouter(cfg *config.LLMConfig, providers map[string]Provider, cooldown CooldownStore, log logger.Logger) *Router {
	if cooldown == nil {
		cooldown = newMemCooldownStore()
	}
	if log == nil {
		log = logger.Global()
	}
	return &Router{
		cfg:        cfg,
		providers:  providers,
		cooldown:   cooldown,
		limiters:   newLimiterPool(cfg.RequestsPerMinute),
		classifier: NewComplexityClassifier(DefaultClassifierConfig()),
		logger:     log,
	}
}

// EnableClassifier swaps in a configured complexity classifier; by default
// the classifier is built but only consulted when cfg enables it.
func (r *Router) EnableClassifier(c *ComplexityClassifier) { r.classifier = c }

// SetMetrics attaches a metrics manager for fallback-hop recording. A nil
// or never-called value leaves fallback metrics unrecorded, same as a nil
// *metrics.Manager would.
func (r *Router) SetMetrics(m *metrics.Manager) { r.metrics = m }

// ResolveOptions carries the inputs to Resolve's precedence chain.
type ResolveOptions struct {
	ProcessKind      domain.ProcessKind
	TaskType         string // worker/branch task-type override, may be empty
	UserMessage      string // consulted by the classifier, may be empty
	ClassifierOn     bool
}

// Resolve picks a model id per spec.md §4.2's precedence: explicit task-type
// override, then the optional complexity classifier, then the process-type
// default, then DefaultModel. It never returns a model currently in
// cool-down; the caller's eventual Call still falls back further if the
// chosen model fails at call time.
func (r *Router) Resolve(ctx context.Context, opts ResolveOptions) string {
	candidates := r.resolutionOrder(opts)
	for _, m := range candidates {
		if m == "" {
			continue
		}
		if !r.cooldown.InCooldown(ctx, m) {
			return m
		}
	}
	// Every candidate (including the default) is cooling down; return the
	// first non-empty one anyway so Call can walk the fallback chain.
	for _, m := range candidates {
		if m != "" {
			return m
		}
	}
	return r.cfg.DefaultModel
}

func (r *Router) resolutionOrder(opts ResolveOptions) []string {
	var order []string
	if opts.TaskType != "" {
		if m, ok := r.cfg.TaskTypeOverrides[opts.TaskType]; ok {
			order = append(order, m)
		}
	}
	if opts.ClassifierOn && r.classifier != nil && opts.UserMessage != "" {
		order = append(order, r.classifier.Classify(opts.UserMessage).Model)
	}
	if m, ok := r.cfg.ProcessDefaults[string(opts.ProcessKind)]; ok {
		order = append(order, m)
	}
	order = append(order, r.cfg.DefaultModel)
	return order
}

// Call dispatches req against model, falling back through cfg.FallbackChain
// on a retriable *domain.LlmError up to MaxFallbackAttempts models total.
// bad_request, context_length_exceeded, and successes are never retried.
func (r *Router) Call(ctx context.Context, model string, req Request) (*Response, error) {
	chain := r.fallbackChain(model)
	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 || maxAttempts > MaxFallbackAttempts {
		maxAttempts = MaxFallbackAttempts
	}
	if len(chain) > maxAttempts {
		chain = chain[:maxAttempts]
	}

	var lastErr error
	for i, m := range chain {
		if r.cooldown.InCooldown(ctx, m) {
			lastErr = &domain.LlmError{Reason: domain.LlmRateLimited, Model: m, Cause: fmt.Errorf("model cooling down")}
			continue
		}
		req.Model = m
		resp, err := r.callOne(ctx, m, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		le := classifyErr(m, err)
		if !le.Retriable() {
			return nil, le
		}
		r.cooldown.SetCooldown(ctx, m, r.cfg.CooldownDuration)
		r.logger.Warn("llm call failed, trying fallback",
			"model", m, "reason", le.Reason, "attempt", i+1)
		if i+1 < len(chain) {
			r.metrics.RecordRouterFallback(m, chain[i+1])
		}
	}
	return nil, lastErr
}

func (r *Router) fallbackChain(model string) []string {
	chain := []string{model}
	for _, m := range r.cfg.FallbackChain {
		if m != model {
			chain = append(chain, m)
		}
	}
	return chain
}

func (r *Router) callOne(ctx context.Context, model string, req Request) (*Response, error) {
	p, ok := r.providers[model]
	if !ok {
		return nil, &domain.LlmError{Reason: domain.LlmOther, Model: model, Cause: fmt.Errorf("no provider configured for model %q", model)}
	}
	if lim := r.limiters.get(model); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, &domain.LlmError{Reason: domain.LlmTimeout, Model: model, Cause: err}
		}
	}
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, classifyErr(model, err)
	}
	return resp, nil
}

// Stream dispatches a streaming completion directly against model (no
// fallback walk mid-stream; a stream failure surfaces to the caller, which
// may retry Stream against the next fallback model).
func (r *Router) Stream(ctx context.Context, model string, req Request) (<-chan StreamEvent, error) {
	p, ok := r.providers[model]
	if !ok {
		return nil, &domain.LlmError{Reason: domain.LlmOther, Model: model, Cause: fmt.Errorf("no provider configured for model %q", model)}
	}
	if lim := r.limiters.get(model); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, &domain.LlmError{Reason: domain.LlmTimeout, Model: model, Cause: err}
		}
	}
	req.Model = model
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, classifyErr(model, err)
	}
	return ch, nil
}
