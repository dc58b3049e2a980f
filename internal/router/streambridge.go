package router

import (
	"encoding/json"
	"time"

	"github.com/gatewayllm/gatewayllm/internal/streaming"
	"github.com/gatewayllm/gatewayllm/types"
)

// chunkEnvelope is the shape pushed through the backpressure buffer between
// the upstream adapter's producer goroutine and wrapStream's consumer.
// Unlike the SSE wire payload (which never marshals chunk.Err — gateway's
// streamCompletion handles an error chunk specially), this envelope carries
// the error fields explicitly so a terminal chunk.Err survives the trip
// through the buffer.
type chunkEnvelope struct {
	ID           string        `json:"id"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Index        int           `json:"index"`
	Delta        types.Message `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *types.Usage  `json:"usage,omitempty"`
	ErrCode      string        `json:"err_code,omitempty"`
	ErrMessage   string        `json:"err_message,omitempty"`
	ErrStatus    int           `json:"err_status,omitempty"`
	ErrRetryable bool          `json:"err_retryable,omitempty"`
}

// encodeChunk converts one StreamChunk into a streaming.Token, using the
// zero-copy []byte->string conversion for the marshaled envelope instead of
// an ordinary string(data) cast.
func encodeChunk(c types.StreamChunk) streaming.Token {
	env := chunkEnvelope{
		ID: c.ID, Provider: c.Provider, Model: c.Model, Index: c.Index,
		Delta: c.Delta, FinishReason: c.FinishReason, Usage: c.Usage,
	}
	if c.Err != nil {
		env.ErrCode = string(c.Err.Code)
		env.ErrMessage = c.Err.Message
		env.ErrStatus = c.Err.HTTPStatus
		env.ErrRetryable = c.Err.Retryable
	}
	data, _ := json.Marshal(env)
	return streaming.Token{
		Content:   streaming.BytesToString(data),
		Index:     c.Index,
		Timestamp: time.Now(),
		Final:     c.FinishReason != "" || c.Err != nil,
	}
}

// decodeChunk reverses encodeChunk.
func decodeChunk(tok streaming.Token) types.StreamChunk {
	var env chunkEnvelope
	_ = json.Unmarshal(streaming.StringToBytes(tok.Content), &env)
	out := types.StreamChunk{
		ID: env.ID, Provider: env.Provider, Model: env.Model, Index: env.Index,
		Delta: env.Delta, FinishReason: env.FinishReason, Usage: env.Usage,
	}
	if env.ErrCode != "" {
		out.Err = types.NewError(types.ErrorCode(env.ErrCode), env.ErrMessage).
			WithHTTPStatus(env.ErrStatus).WithRetryable(env.ErrRetryable)
	}
	return out
}

// streamBufferConfig bounds the backpressure buffer sitting between the
// upstream adapter and the client write loop: large enough to absorb a
// burst of token deltas without ever dropping one (chunks aren't a
// droppable quantity; every chunk must reach the client verbatim), so the
// policy is always DropPolicyBlock.
func streamBufferConfig() streaming.BackpressureConfig {
	cfg := streaming.DefaultBackpressureConfig()
	cfg.BufferSize = 256
	cfg.DropPolicy = streaming.DropPolicyBlock
	return cfg
}
