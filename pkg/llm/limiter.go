package llm

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool hands out a per-model token-bucket limiter, created lazily the
// first time a model is resolved. The teacher's lane package uses a
// hand-rolled token bucket (pkg/lane/rate_limiter.go); the router uses
// golang.org/x/time/rate instead since it is already a direct dependency and
// composes cleanly with context cancellation via Wait.
type limiterPool struct {
	mu       sync.Mutex
	perModel map[string]*rate.Limiter
	rps      float64
}

func newLimiterPool(requestsPerMinute float64) *limiterPool {
	rps := requestsPerMinute / 60.0
	if rps <= 0 {
		rps = 0 // zero disables limiting; get() returns nil
	}
	return &limiterPool{perModel: make(map[string]*rate.Limiter), rps: rps}
}

// get returns the limiter for model, or nil if rate limiting is disabled.
func (p *limiterPool) get(model string) *rate.Limiter {
	if p.rps <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.perModel[model]
	if !ok {
		burst := int(p.rps * 2)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(p.rps), burst)
		p.perModel[model] = l
	}
	return l
}
