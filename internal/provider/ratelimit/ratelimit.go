// Package ratelimit provides an adaptive tokens-per-minute limiter that the
// pipeline applies around a provider.Adapter's Execute call, backing off on
// RateLimited and probing back up
// on sustained success. The runtime coordinates no state across processes
// (spec.md's Non-goals exclude distributed coordination); the limiter is
// strictly process-local.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/request"
)

// Limiter applies an AIMD-style adaptive token bucket in front of a
// provider.Adapter's Execute call. The pipeline (C9) calls Wait immediately
// before adapter.Execute and Observe immediately after, keyed per provider
// so one Limiter instance may be shared safely across concurrent batch
// items (Wait/Observe carry no request-scoped state between calls).
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New constructs a Limiter with an initial tokens-per-minute budget and an
// upper bound. When maxTPM is zero or below initialTPM, it is clamped to
// initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wait blocks until enough budget is available for req's estimated token
// cost, or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, req *request.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

// Observe adjusts the effective budget based on the outcome of the call
// Wait gated: backs off by half on RateLimited, probes upward on success.
func (l *Limiter) Observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var cerr *conduiterr.Error
	if errors.As(err, &cerr) && cerr.Kind == conduiterr.RateLimited {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPM(newTPM)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPM(newTPM)
}

// setTPM must be called with mu held.
func (l *Limiter) setTPM(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens is a cheap heuristic over a request's message text, with a
// fixed buffer for system prompts and provider framing overhead.
func estimateTokens(req *request.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		switch v := m.(type) {
		case model.SystemMessage:
			charCount += len(v.Content)
		case model.UserMessage:
			charCount += len(v.Content)
		case model.AssistantMessage:
			charCount += len(v.Content)
		case model.ToolMessage:
			charCount += len(v.Content)
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount/3 + 500
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
