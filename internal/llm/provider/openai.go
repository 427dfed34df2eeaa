package provider

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pywen-ai/pywen/internal/llm"
)

// OpenAIAdapter serves both the "openai" and "compatible" provider tags. It
// speaks two wire dialects:
//
//   - chat: Chat Completions streaming; tool calls arrive as incremental
//     deltas on assistant messages and are assembled by index.
//   - responses: the Responses API; the input is a list of typed items and
//     tool calls are signalled by item-done events.
//
// The dialect is chosen per request from the wire_api hint (or a per-call
// override). "auto" resolves to responses for first-party OpenAI and to chat
// for compatible gateways, which commonly implement only Chat Completions.
type OpenAIAdapter struct {
	cfg      llm.Config
	provider string

	chatClient *openai.Client

	// mu guards the server-side conversation linking state used by the
	// responses dialect.
	mu                 sync.Mutex
	conversationID     string
	previousResponseID string
}

func newOpenAIAdapter(cfg llm.Config) *OpenAIAdapter {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	cfg.APIKey = apiKey
	cfg.BaseURL = baseURL

	chatCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		chatCfg.BaseURL = baseURL
	}

	return &OpenAIAdapter{
		cfg:        cfg,
		provider:   cfg.Provider,
		chatClient: openai.NewClientWithConfig(chatCfg),
	}
}

// Name returns the provider tag this adapter was built for.
func (a *OpenAIAdapter) Name() string {
	return a.provider
}

// StreamResponse opens a streaming completion in the resolved dialect.
func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req *llm.Request) (<-chan llm.ResponseEvent, error) {
	switch a.resolveWire(req.WireAPI) {
	case llm.WireResponses:
		return a.streamResponsesAPI(ctx, req)
	default:
		return a.streamChatAPI(ctx, req)
	}
}

// GenerateResponse performs a non-streaming completion in the resolved dialect.
func (a *OpenAIAdapter) GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	switch a.resolveWire(req.WireAPI) {
	case llm.WireResponses:
		return a.generateResponsesAPI(ctx, req)
	default:
		return a.generateChatAPI(ctx, req)
	}
}

// CreateConversation enables server-side conversation state for the
// responses dialect: subsequent requests link to the previous response so
// the server replays assistant context. The returned id is opaque to
// callers.
func (a *OpenAIAdapter) CreateConversation(ctx context.Context) (string, error) {
	if a.resolveWire("") != llm.WireResponses {
		return "", llm.ErrUnsupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conversationID == "" {
		a.conversationID = uuid.NewString()
	}
	return a.conversationID, nil
}

func (a *OpenAIAdapter) resolveWire(override llm.WireAPI) llm.WireAPI {
	wire := a.cfg.WireAPI
	if override == llm.WireChat || override == llm.WireResponses {
		wire = override
	}
	switch wire {
	case llm.WireChat, llm.WireResponses:
		return wire
	default:
		if a.provider == "openai" {
			return llm.WireResponses
		}
		return llm.WireChat
	}
}

func (a *OpenAIAdapter) model(req *llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.Model
}
