package runtime

import (
	"context"
	"time"

	"github.com/vinodismyname/mcpsheets/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency, payload, and time guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxConcurrentEvals    int

	// Payload and result bounds
	MaxPayloadBytes int
	ResultCap       int

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
	EvaluationTimeout     time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentRequests, maxConcurrentEvals int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxConcurrentEvals <= 0 {
		maxConcurrentEvals = config.DefaultMaxConcurrentEvals
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxConcurrentEvals:    maxConcurrentEvals,
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		ResultCap:             config.DefaultResultCap,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
		EvaluationTimeout:     config.DefaultEvaluationTimeout,
	}
}

// Controller coordinates runtime semaphores for request and evaluation guardrails.
type Controller struct {
	limits        Limits
	requestSem    *semaphore.Weighted
	evaluationSem *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:        limits,
		requestSem:    semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		evaluationSem: semaphore.NewWeighted(int64(limits.MaxConcurrentEvals)),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSem.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSem.Release(1)
}

// AcquireEvaluation reserves a slot for running caller-supplied code, waiting
// at most AcquireRequestTimeout.
func (c *Controller) AcquireEvaluation(ctx context.Context) error {
	if c.limits.AcquireRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.limits.AcquireRequestTimeout)
		defer cancel()
	}
	return c.evaluationSem.Acquire(ctx, 1)
}

// ReleaseEvaluation frees an evaluation slot.
func (c *Controller) ReleaseEvaluation() {
	c.evaluationSem.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
