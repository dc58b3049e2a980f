package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/router"
	"github.com/gatewayllm/gatewayllm/internal/spend"
	"github.com/gatewayllm/gatewayllm/internal/streaming"
	"github.com/gatewayllm/gatewayllm/types"
)

// HandleChatCompletions implements POST /v1/chat/completions: unary or
// SSE, selected by the request body's "stream" field.
func (g *Gateway) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ac, ok := g.authenticate(w, r)
	if !ok {
		return
	}

	var req types.CompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateCompletionRequest(&req); err != nil {
		g.writeError(w, err)
		return
	}
	if !g.admit(w, ac, req.Model) {
		return
	}
	if !g.checkBudget(w, estimateRequestTokens(req.Messages)) {
		return
	}
	if !g.checkModelType(r.Context(), w, req.Model, controlplane.ModelTypeChat) {
		return
	}

	req.OrgID = ac.OrgID
	req.TeamID = ac.TeamID
	if req.Timeout <= 0 {
		req.Timeout = g.RequestTimeout
	}
	requestID := uuid.NewString()

	if req.Stream {
		g.streamCompletion(w, r, ac, requestID, &req)
		return
	}
	g.unaryCompletion(w, r, ac, requestID, &req)
}

func (g *Gateway) unaryCompletion(w http.ResponseWriter, r *http.Request, ac *types.AuthContext, requestID string, req *types.CompletionRequest) {
	start := time.Now()
	outcome, err := g.Router.Complete(r.Context(), req)
	latency := time.Since(start)

	if err != nil {
		g.writeError(w, err)
		g.Spend.RecordAsync(spendParamsFromErr(requestID, ac, req.Model, latency, err))
		if g.Metrics != nil {
			g.Metrics.RecordDispatch("", req.Model, "error", latency, 0, 0)
		}
		return
	}

	if outcome.Response.HiddenParams == nil {
		outcome.Response.HiddenParams = &types.HiddenParams{}
	}
	outcome.Response.HiddenParams.ResponseCost = g.Spend.EstimateCost(r.Context(), req.Model, outcome.Response.Usage)

	writeJSON(w, http.StatusOK, outcome.Response)

	// Spend recording immediately follows body production.
	g.Spend.RecordAsync(spendParams(requestID, ac, req.Model, outcome, latency, nil))
	g.recordBudgetUsage(req.Model, outcome.Response.Usage.TotalTokens)
	if g.Metrics != nil {
		g.Metrics.RecordDispatch(outcome.Provider, req.Model, "success", latency,
			outcome.Response.Usage.PromptTokens, outcome.Response.Usage.CompletionTokens)
	}
}

func (g *Gateway) streamCompletion(w http.ResponseWriter, r *http.Request, ac *types.AuthContext, requestID string, req *types.CompletionRequest) {
	start := time.Now()
	outcome, err := g.Router.Stream(r.Context(), req)
	if err != nil {
		g.writeError(w, err)
		g.Spend.RecordAsync(spendParamsFromErr(requestID, ac, req.Model, time.Since(start), err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, types.NewError(types.ErrInternalError, "streaming not supported by this transport").WithHTTPStatus(500))
		return
	}
	w.WriteHeader(http.StatusOK)

	// buf is reused across every chunk in this stream: one reusable
	// zero-copy buffer instead of a fresh []byte concatenation per chunk.
	buf := streaming.NewZeroCopyBuffer(512)

	var usage *types.Usage
	for chunk := range outcome.Chunks {
		if chunk.Err != nil {
			g.Logger.Error("stream error", zap.Error(chunk.Err))
			errPayload, _ := json.Marshal(wireError{Error: wireErrorBody{
				Message: chunk.Err.Message, Type: "api_error", Code: string(chunk.Err.Code),
			}})
			writeSSE(w, flusher, buf, errPayload)
			g.Spend.RecordAsync(spendParamsFromErr(requestID, ac, req.Model, time.Since(start), chunk.Err))
			return
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		payload, _ := json.Marshal(chunk)
		writeSSE(w, flusher, buf, payload)
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	// Streaming spend recording fires at the terminal chunk, using whatever usage the final chunk carried.
	g.Spend.RecordAsync(spendParamsStream(requestID, ac, req.Model, outcome.Provider, usage, time.Since(start)))
	if usage != nil {
		g.recordBudgetUsage(req.Model, usage.TotalTokens)
	}
	if g.Metrics != nil {
		prompt, completion := 0, 0
		if usage != nil {
			prompt, completion = usage.PromptTokens, usage.CompletionTokens
		}
		g.Metrics.RecordDispatch(outcome.Provider, req.Model, "success", time.Since(start), prompt, completion)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, buf *streaming.ZeroCopyBuffer, payload []byte) {
	buf.Reset()
	buf.Write([]byte("data: "))
	buf.Write(payload)
	buf.Write([]byte("\n\n"))
	w.Write(buf.Bytes())
	flusher.Flush()
}

// validateCompletionRequest enforces the request boundary rules:
// max_tokens/max_completion_tokens are mutually exclusive, and
// temperature/top_p ranges are enforced.
func validateCompletionRequest(req *types.CompletionRequest) *types.Error {
	if req.Model == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required").WithHTTPStatus(400).WithParam("model")
	}
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty").WithHTTPStatus(400).WithParam("messages")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2").WithHTTPStatus(400).WithParam("temperature")
	}
	if req.TopP < 0 || req.TopP > 1 {
		return types.NewError(types.ErrInvalidRequest, "top_p must be between 0 and 1").WithHTTPStatus(400).WithParam("top_p")
	}
	if req.N < 0 {
		return types.NewError(types.ErrInvalidRequest, "n must be at least 1").WithHTTPStatus(400).WithParam("n")
	}
	if req.MaxTokens > 0 && req.MaxCompletionTokens > 0 {
		return types.NewError(types.ErrInvalidRequest, "max_tokens and max_completion_tokens are mutually exclusive").WithHTTPStatus(400)
	}
	for _, m := range req.Messages {
		if m.Role == types.RoleTool && m.ToolCallID == "" {
			return types.NewError(types.ErrInvalidRequest, "tool messages require tool_call_id").WithHTTPStatus(400).WithParam("messages")
		}
	}
	return nil
}

// estimateRequestTokens gives the budget safety valve a cheap pre-dispatch
// token estimate (~4 characters per token, a common rough heuristic) before
// the provider's own usage accounting is available.
func estimateRequestTokens(messages []types.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars/4 + 1
}

func spendParams(requestID string, ac *types.AuthContext, requestedModel string, outcome *router.Outcome, latency time.Duration, err error) spend.Params {
	p := baseSpendParams(requestID, ac, requestedModel, string(controlplane.ModelTypeChat), latency, err)
	p.Provider = outcome.Provider
	p.PromptTokens = outcome.Response.Usage.PromptTokens
	p.CompletionTokens = outcome.Response.Usage.CompletionTokens
	p.TotalTokens = outcome.Response.Usage.TotalTokens
	return p
}

func spendParamsStream(requestID string, ac *types.AuthContext, requestedModel, provider string, usage *types.Usage, latency time.Duration) spend.Params {
	p := baseSpendParams(requestID, ac, requestedModel, string(controlplane.ModelTypeChat), latency, nil)
	p.Provider = provider
	if usage != nil {
		p.PromptTokens = usage.PromptTokens
		p.CompletionTokens = usage.CompletionTokens
		p.TotalTokens = usage.TotalTokens
	}
	return p
}

func spendParamsFromErr(requestID string, ac *types.AuthContext, requestedModel string, latency time.Duration, err error) spend.Params {
	return baseSpendParams(requestID, ac, requestedModel, string(controlplane.ModelTypeChat), latency, err)
}

func baseSpendParams(requestID string, ac *types.AuthContext, requestedModel, endpointType string, latency time.Duration, err error) spend.Params {
	return spend.Params{
		RequestID:    requestID,
		APIKeyID:     ac.KeyID,
		UserID:       ac.UserID,
		TeamID:       ac.TeamID,
		OrgID:        ac.OrgID,
		Model:        requestedModel,
		EndpointType: endpointType,
		LatencyMS:    latency.Milliseconds(),
		Err:          err,
	}
}
