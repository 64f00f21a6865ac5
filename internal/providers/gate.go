package providers

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// GatedLlm caps concurrent model invocations with a process-wide
// semaphore. Agents share one instance so the provider's concurrency
// limit holds across the whole worker.
type GatedLlm struct {
	inner Llm
	sem   *semaphore.Weighted
}

// NewGatedLlm wraps inner with a gate of maxInFlight slots.
func NewGatedLlm(inner Llm, maxInFlight int64) *GatedLlm {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &GatedLlm{inner: inner, sem: semaphore.NewWeighted(maxInFlight)}
}

func (g *GatedLlm) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)
	return g.inner.Invoke(ctx, prompt, opts)
}

func (g *GatedLlm) InvokeVision(ctx context.Context, imagePNG []byte, prompt string, opts InvokeOptions) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)
	return g.inner.InvokeVision(ctx, imagePNG, prompt, opts)
}

func (g *GatedLlm) ExtractStructured(ctx context.Context, data interface{}, instructions string) (Payload, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.ExtractStructured(ctx, data, instructions)
}
