// Package ratelimit gates every outbound Notion API call behind a shared
// token bucket and a concurrency cap so the rest of the codebase never has
// to think about the remote quota.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Gate serializes remote calls. All Notion traffic funnels through one
// instance: callers queue in FIFO order on the limiter, then on the
// concurrency slots. Do never rejects, it only delays.
type Gate struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

func New(requestsPerSecond float64, burst, concurrency int) *Gate {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 3
	}
	if burst <= 0 {
		burst = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		slots:   make(chan struct{}, concurrency),
	}
}

// Do waits for a token and a free slot, then runs fn. The only errors it
// returns on its own are context cancellations.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slots }()
	return fn(ctx)
}
