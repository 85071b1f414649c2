// Package ratecontrol paces outbound search traffic per provider so a burst
// of concurrent research steps cannot exhaust a provider's quota.
package ratecontrol

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limit is a per-provider requests-per-minute bound. Zero means unlimited.
type Limit struct {
	RPM int
}

// Upstream quotas for the search providers we route through. Anything not
// listed falls back to the default.
var builtInProviderLimits = map[string]Limit{
	"tavily":     {RPM: 100},
	"brave":      {RPM: 60},
	"serper":     {RPM: 120},
	"arxiv":      {RPM: 20},
	"duckduckgo": {RPM: 30},
}

const defaultRPM = 60

// Pacer hands out a shared token-bucket limiter per provider.
type Pacer struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	overrides map[string]Limit
}

// NewPacer builds a pacer. overrides take precedence over the built-in
// table; a nil map keeps the defaults.
func NewPacer(overrides map[string]Limit) *Pacer {
	return &Pacer{
		limiters:  make(map[string]*rate.Limiter),
		overrides: overrides,
	}
}

// LimitFor resolves the effective limit for a provider name.
func (p *Pacer) LimitFor(provider string) Limit {
	key := normalize(provider)
	if l, ok := p.overrides[key]; ok {
		return l
	}
	if l, ok := builtInProviderLimits[key]; ok {
		return l
	}
	return Limit{RPM: defaultRPM}
}

// Wait blocks until the provider's bucket permits one request, or the
// context is done.
func (p *Pacer) Wait(ctx context.Context, provider string) error {
	return p.limiterFor(provider).Wait(ctx)
}

func (p *Pacer) limiterFor(provider string) *rate.Limiter {
	key := normalize(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[key]; ok {
		return l
	}
	limit := p.LimitFor(key)
	var l *rate.Limiter
	if limit.RPM <= 0 {
		l = rate.NewLimiter(rate.Inf, 1)
	} else {
		// Burst of RPM/4 absorbs step fan-out without breaching the
		// per-minute quota.
		burst := limit.RPM / 4
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
	}
	p.limiters[key] = l
	return l
}

func normalize(provider string) string {
	s := strings.ToLower(strings.TrimSpace(provider))
	if s == "" {
		return "default"
	}
	return s
}
