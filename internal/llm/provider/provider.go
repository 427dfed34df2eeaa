// Package provider implements the wire-format adapters behind the llm.Client.
// It is the only package permitted to know provider HTTP/SSE formats; every
// adapter converges on the llm.ResponseEvent protocol.
package provider

import (
	"fmt"
	"strings"

	"github.com/pywen-ai/pywen/internal/llm"
)

// anthropicNativePrefix marks first-party Anthropic model names. Any other
// model name on the anthropic provider is assumed to be a third-party
// compatible gateway and authenticated with bearer-style headers.
const anthropicNativePrefix = "claude"

// New builds the adapter for cfg.Provider. It is the llm.AdapterFactory used
// outside of tests.
func New(cfg llm.Config) (llm.Adapter, error) {
	switch cfg.Provider {
	case "openai", "compatible":
		return newOpenAIAdapter(cfg), nil
	case "anthropic":
		bearer := !strings.HasPrefix(strings.ToLower(cfg.Model), anthropicNativePrefix)
		return newAnthropicAdapter(cfg, bearer), nil
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Provider)
	}
}
