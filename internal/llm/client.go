package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pywen-ai/pywen/pkg/models"
)

// WireAPI selects the wire dialect for OpenAI-compatible providers.
type WireAPI string

const (
	WireAuto      WireAPI = "auto"
	WireChat      WireAPI = "chat"
	WireResponses WireAPI = "responses"
)

// Config holds the immutable provider configuration for one agent lifetime.
type Config struct {
	// Provider is one of "openai", "compatible", "anthropic".
	Provider string

	APIKey  string
	BaseURL string
	Model   string

	// WireAPI hints the dialect for openai/compatible providers.
	WireAPI WireAPI

	// Timeout bounds a single request.
	Timeout time.Duration

	// MaxRetries bounds non-streaming retry attempts.
	MaxRetries int

	// MaxTurns is the per-task turn budget, carried here because it is part
	// of the provider profile in pywen_config.json.
	MaxTurns int
}

// Request is one completion request built from conversation history.
type Request struct {
	Messages []models.Message
	Tools    []models.ToolDefinition
	Model    string

	// WireAPI overrides the configured dialect for this call when non-empty.
	WireAPI WireAPI

	MaxTokens int
}

// Response is a non-streaming completion result.
type Response struct {
	Content string
	Usage   models.TokenUsage
}

// Adapter converts between the internal conversation representation and one
// provider wire format. StreamResponse is the required surface; the other
// two are optional and may return ErrUnsupported.
type Adapter interface {
	// Name returns the provider tag the adapter serves.
	Name() string

	// StreamResponse opens a streaming completion. The returned channel is
	// closed after a terminal event (completed or error).
	StreamResponse(ctx context.Context, req *Request) (<-chan ResponseEvent, error)

	// GenerateResponse performs a non-streaming completion.
	GenerateResponse(ctx context.Context, req *Request) (*Response, error)

	// CreateConversation returns an opaque server-side conversation id that
	// the adapter attaches to subsequent calls.
	CreateConversation(ctx context.Context) (string, error)
}

// ErrUnsupported indicates an optional adapter operation the provider does
// not implement.
var ErrUnsupported = errors.New("operation not supported by provider")

// AdapterFactory builds the adapter for a config. Overridable in tests.
type AdapterFactory func(cfg Config) (Adapter, error)

// Client is a thin multiplexer: it holds one Config, constructs one adapter
// on creation, and forwards streaming calls. Non-streaming requests get an
// outer timeout and exponential-backoff retries; streaming requests are
// never retried at this layer.
type Client struct {
	cfg     Config
	adapter Adapter
}

// NewClient builds a client for the configured provider.
func NewClient(cfg Config, factory AdapterFactory) (*Client, error) {
	if factory == nil {
		return nil, errors.New("llm: adapter factory is required")
	}
	adapter, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, adapter: adapter}, nil
}

// Config returns the immutable provider configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Provider returns the adapter's provider tag.
func (c *Client) Provider() string {
	return c.adapter.Name()
}

// StreamResponse opens a provider stream for the request. Transport errors
// during streaming surface as error events on the channel, not as retries.
func (c *Client) StreamResponse(ctx context.Context, req *Request) (<-chan ResponseEvent, error) {
	if c.cfg.Timeout > 0 {
		// The stream outlives this call; the deadline bounds the whole
		// request including consumption, matching the configured request
		// timeout semantics.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		events, err := c.adapter.StreamResponse(ctx, req)
		if err != nil {
			cancel()
			return nil, err
		}
		out := make(chan ResponseEvent)
		go func() {
			defer cancel()
			defer close(out)
			for ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
	return c.adapter.StreamResponse(ctx, req)
}

// GenerateResponse performs a non-streaming completion with retries at
// 0.5*2^attempt seconds between attempts.
func (c *Client) GenerateResponse(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(0.5 * math.Pow(2, float64(attempt)) * float64(time.Second))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		callCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		}
		resp, err := c.adapter.GenerateResponse(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrUnsupported) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("llm: retries exhausted: %w", lastErr)
}

// CreateConversation forwards to the adapter when supported.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	return c.adapter.CreateConversation(ctx)
}
