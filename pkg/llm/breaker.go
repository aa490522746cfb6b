package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
)

// ErrCircuitOpen is returned without calling the provider while the
// breaker is open
var ErrCircuitOpen = errors.New("model provider unavailable: circuit breaker open")

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	// CircuitClosed allows requests to pass through
	CircuitClosed CircuitState = "closed"
	// CircuitOpen blocks all requests
	CircuitOpen CircuitState = "open"
	// CircuitHalfOpen lets trial requests through
	CircuitHalfOpen CircuitState = "half-open"
)

// BreakerConfig configures the circuit breaker
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenDuration     time.Duration
}

// DefaultBreakerConfig returns the default breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenDuration:     30 * time.Second,
	}
}

// BreakerClient stops calling a provider after repeated failures and
// retries it once the open period has passed. Cancellations by the caller
// are not counted as provider failures.
type BreakerClient struct {
	client domain.LLMClient
	cfg    BreakerConfig
	logger *observability.StructuredLogger
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreakerClient wraps client with a circuit breaker
func NewBreakerClient(client domain.LLMClient, cfg BreakerConfig) *BreakerClient {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	return &BreakerClient{
		client: client,
		cfg:    cfg,
		logger: observability.NewStructuredLogger("llm_breaker"),
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Chat performs a chat completion if the breaker allows it
func (b *BreakerClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := b.client.Chat(ctx, messages, opts)
	b.record(ctx, err)
	return resp, err
}

// Stream performs a streaming chat completion if the breaker allows it.
// The outcome is recorded when the stream finishes.
func (b *BreakerClient) Stream(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (<-chan domain.ChatStreamResponse, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}
	stream, err := b.client.Stream(ctx, messages, opts)
	if err != nil {
		b.record(ctx, err)
		return nil, err
	}

	out := make(chan domain.ChatStreamResponse)
	go func() {
		defer close(out)
		var streamErr error
		done := false
		for chunk := range stream {
			if chunk.Error != nil {
				streamErr = chunk.Error
			}
			done = done || chunk.Done
			out <- chunk
		}
		if streamErr == nil && !done {
			streamErr = ctx.Err()
		}
		b.record(ctx, streamErr)
	}()
	return out, nil
}

// State returns the current breaker state
func (b *BreakerClient) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker
func (b *BreakerClient) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}

func (b *BreakerClient) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != CircuitOpen {
		return true
	}
	if b.now().Sub(b.lastFailure) >= b.cfg.OpenDuration {
		b.state = CircuitHalfOpen
		b.successes = 0
		return true
	}
	return false
}

func (b *BreakerClient) record(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.state = CircuitClosed
				b.failures = 0
				b.successes = 0
				b.logger.Info(ctx, "Circuit breaker closed")
			}
		case CircuitClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		if b.state != CircuitOpen {
			b.logger.Warn(ctx, "Circuit breaker opened", map[string]interface{}{
				"failures": b.failures,
				"error":    err.Error(),
			})
		}
		b.state = CircuitOpen
		b.successes = 0
	}
}
