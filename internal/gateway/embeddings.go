package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/types"
)

// HandleEmbeddings implements POST /v1/embeddings — the same admission
// pattern as chat completions, validated against ModelTypeEmbedding
// instead of ModelTypeChat.
func (g *Gateway) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	ac, ok := g.authenticate(w, r)
	if !ok {
		return
	}

	var req types.EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		g.writeError(w, types.NewError(types.ErrInvalidRequest, "model is required").WithHTTPStatus(400).WithParam("model"))
		return
	}
	if len(req.Input) == 0 {
		g.writeError(w, types.NewError(types.ErrInvalidRequest, "input cannot be empty").WithHTTPStatus(400).WithParam("input"))
		return
	}
	if !g.admit(w, ac, req.Model) {
		return
	}
	if !g.checkBudget(w, estimateInputTokens(req.Input)) {
		return
	}
	if !g.checkModelType(r.Context(), w, req.Model, controlplane.ModelTypeEmbedding) {
		return
	}

	req.OrgID = ac.OrgID
	req.TeamID = ac.TeamID
	requestID := uuid.NewString()

	start := time.Now()
	outcome, err := g.Router.Embed(r.Context(), &req)
	latency := time.Since(start)
	if err != nil {
		g.writeError(w, err)
		g.Spend.RecordAsync(baseSpendParams(requestID, ac, req.Model, string(controlplane.ModelTypeEmbedding), latency, err))
		return
	}

	writeJSON(w, http.StatusOK, outcome.Response)

	p := baseSpendParams(requestID, ac, req.Model, string(controlplane.ModelTypeEmbedding), latency, nil)
	p.Provider = outcome.Provider
	p.PromptTokens = outcome.Response.Usage.PromptTokens
	p.TotalTokens = outcome.Response.Usage.TotalTokens
	g.Spend.RecordAsync(p)
	g.recordBudgetUsage(req.Model, outcome.Response.Usage.TotalTokens)
}

// estimateInputTokens gives the budget safety valve a cheap pre-dispatch
// estimate for embedding requests, same heuristic as estimateRequestTokens.
func estimateInputTokens(input []string) int {
	chars := 0
	for _, s := range input {
		chars += len(s)
	}
	return chars/4 + 1
}
