package types

import "time"

// CompletionRequest is the canonical, provider-agnostic shape of a chat
// completion request arriving at the gateway. It mirrors the OpenAI
// chat-completions wire format; provider adapters translate it into
// whatever shape their upstream API expects.
type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	// MaxCompletionTokens is the o-series alias for MaxTokens.
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty"`
	// N is the number of completions to generate.
	// Zero means "unset", treated as 1 by adapters.
	N           int          `json:"n,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	TopP        float64      `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	Stream      bool         `json:"stream,omitempty"`

	// OrgID/TeamID scope deployment resolution. Resolved from
	// AuthContext, never taken directly from the request body.
	OrgID  string `json:"-"`
	TeamID string `json:"-"`

	// Timeout bounds a single dispatch attempt. Zero means the router's
	// configured default.
	Timeout time.Duration `json:"-"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// EffectiveMaxTokens returns whichever of MaxTokens/MaxCompletionTokens the
// caller set (validation guarantees at most one is nonzero), or 0 if
// neither was set.
func (r *CompletionRequest) EffectiveMaxTokens() int {
	if r.MaxCompletionTokens > 0 {
		return r.MaxCompletionTokens
	}
	return r.MaxTokens
}

// CompletionChoice is one generated completion.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the canonical, provider-agnostic completion result.
// Model and Provider record what actually served the request, which may
// differ from the requested model when a fallback fired; billing always
// uses the publicly requested model name, not this field.
type CompletionResponse struct {
	ID           string             `json:"id"`
	Provider     string             `json:"provider"`
	Model        string             `json:"model"`
	Choices      []CompletionChoice `json:"choices"`
	Usage        Usage              `json:"usage"`
	CreatedAt    time.Time          `json:"created_at"`
	HiddenParams *HiddenParams      `json:"hidden_params,omitempty"`
}

// HiddenParams carries gateway-internal bookkeeping that rides along with
// the response but isn't part of the OpenAI wire contract proper.
// ResponseCost is advisory (the adapter's own pricing stamp); the
// authoritative cost is recorded by the spend pipeline.
type HiddenParams struct {
	ResponseCost string `json:"response_cost,omitempty"`
}

// StreamChunk is one frame of a streamed completion.
type StreamChunk struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
	Err          *Error  `json:"-"`
}
