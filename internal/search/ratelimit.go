package search

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimitedEngine struct {
	inner   Engine
	limiter *rate.Limiter
}

// NewRateLimitedEngine spaces queries to at most perSecond; a non-positive
// rate returns inner unchanged.
func NewRateLimitedEngine(inner Engine, perSecond float64, burst int) Engine {
	if inner == nil || perSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedEngine{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (e *rateLimitedEngine) Query(ctx context.Context, query string, num int) ([]Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.Query(ctx, query, num)
}
