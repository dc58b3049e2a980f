// Package gateway is the thin HTTP surface that sits in front
// of the dispatch engine. Handlers here do exactly five
// things, in order — authenticate, admit, validate, dispatch, record — and
// push every other decision down into the packages that own it (auth,
// controlplane, router, spend).
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatewayllm/gatewayllm/internal/budget"
	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/internal/cooldown"
	"github.com/gatewayllm/gatewayllm/internal/metrics"
	"github.com/gatewayllm/gatewayllm/internal/router"
	"github.com/gatewayllm/gatewayllm/internal/spend"
	"github.com/gatewayllm/gatewayllm/providers"
	"github.com/gatewayllm/gatewayllm/types"
)

// AuthResolver resolves a bearer token to an AuthContext.
// *internal/auth.Resolver satisfies this.
type AuthResolver interface {
	Resolve(ctx context.Context, token string) (*types.AuthContext, error)
}

// ModelLister backs GET /v1/models' DB half of the union. *internal/controlplane.Store satisfies this.
type ModelLister interface {
	ListActiveModelNames(ctx context.Context, orgID string) ([]string, error)
}

// ModelTypeChecker resolves a public model name's declared model_type,
// for per-endpoint type validation.
// *internal/controlplane.Store satisfies this.
type ModelTypeChecker interface {
	ModelTypeFor(ctx context.Context, modelName string) (controlplane.ModelType, bool, error)
}

// SSOHandler is the external single-sign-on handoff behind /auth/login
// and /auth/callback. The gateway only routes to it; the OAuth/OIDC
// exchange itself lives outside this process's scope.
type SSOHandler interface {
	Login(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
}

// Gateway holds every dependency the HTTP handlers need; it owns no state
// of its own beyond what's already tracked by its collaborators.
type Gateway struct {
	Auth           AuthResolver
	Router         *router.Router
	Spend          *spend.Recorder
	Models         ModelLister
	ModelTypes     ModelTypeChecker
	Tracker        *cooldown.Tracker
	KeyLimiter     *cooldown.KeyLimiter
	StaticModels   []providers.Model
	SSO            SSOHandler
	Metrics        *metrics.Collector
	Logger         *zap.Logger
	RequestTimeout time.Duration

	// Budget is the process-wide token-rate safety valve (nil disables
	// it). It sits behind the per-key budget/RPM/RPD checks in admit, not
	// in front of them: a last line of defense, not the primary control.
	Budget *budget.TokenBudgetManager
}

// Routes registers every gateway endpoint on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", g.HandleChatCompletions)
	mux.HandleFunc("POST /v1/embeddings", g.HandleEmbeddings)
	mux.HandleFunc("GET /v1/models", g.HandleListModels)
	mux.HandleFunc("GET /v1/models/{id}", g.HandleGetModel)
	mux.HandleFunc("GET /auth/login", g.HandleSSOLogin)
	mux.HandleFunc("GET /auth/callback", g.HandleSSOCallback)
	mux.HandleFunc("GET /health", g.HandleHealth)
	mux.HandleFunc("GET /health/readiness", g.HandleReadiness)
	mux.HandleFunc("GET /health/liveness", g.HandleLiveness)
	mux.HandleFunc("GET /health/detailed", g.HandleDetailedHealth)
}

// HandleSSOLogin delegates GET /auth/login?state=... to the configured
// SSO handler, or reports 501 when none is wired.
func (g *Gateway) HandleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if g.SSO == nil {
		g.writeError(w, types.NewError(types.ErrInvalidRequest, "SSO is not configured").WithHTTPStatus(http.StatusNotImplemented))
		return
	}
	g.SSO.Login(w, r)
}

// HandleSSOCallback delegates GET /auth/callback?code=...&state=... to the
// configured SSO handler.
func (g *Gateway) HandleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if g.SSO == nil {
		g.writeError(w, types.NewError(types.ErrInvalidRequest, "SSO is not configured").WithHTTPStatus(http.StatusNotImplemented))
		return
	}
	g.SSO.Callback(w, r)
}

// wireError is the OpenAI-compatible error envelope.
type wireError struct {
	Error wireErrorBody `json:"error"`
}

type wireErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Param   string `json:"param,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders any error as the wire envelope, classifying it
// through types.Error when possible and falling back to a generic 500 for
// anything that slipped through unclassified.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	gwErr, ok := err.(*types.Error)
	if !ok {
		gwErr = types.NewError(types.ErrInternalError, err.Error()).WithHTTPStatus(500).WithRetryable(false)
	}
	status := gwErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	g.Logger.Warn("gateway error",
		zap.String("code", string(gwErr.Code)),
		zap.Int("status", status),
		zap.String("message", gwErr.Message))

	writeJSON(w, status, wireError{Error: wireErrorBody{
		Message: gwErr.Message,
		Type:    strings.ToLower(string(gwErr.Code)),
		Code:    string(gwErr.Code),
		Param:   gwErr.Param,
	}})
}

// authenticate resolves the bearer token, writing a 401 on failure.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) (*types.AuthContext, bool) {
	authHeader := r.Header.Get("Authorization")
	var token string
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		g.writeError(w, authErr("missing bearer token"))
		return nil, false
	}
	ac, err := g.Auth.Resolve(r.Context(), token)
	if err != nil {
		g.writeError(w, authErr("invalid bearer token"))
		return nil, false
	}
	return ac, true
}

func authErr(msg string) *types.Error {
	return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(401).WithRetryable(false)
}

// admit applies the allow/block-list and budget checks before the router
// is ever touched.
func (g *Gateway) admit(w http.ResponseWriter, ac *types.AuthContext, model string) bool {
	if !ac.ModelAllowed(model) {
		g.writeError(w, types.NewError(types.ErrPermissionDenied, "model not allowed for this key").
			WithHTTPStatus(403).WithRetryable(false).WithParam("model"))
		return false
	}
	if ac.BudgetExceeded() {
		g.writeError(w, types.NewError(types.ErrBudgetExceeded, "budget exceeded").
			WithHTTPStatus(429).WithRetryable(false))
		return false
	}
	if g.KeyLimiter != nil && ac.KeyID != "" && !g.KeyLimiter.Allow(ac.KeyID) {
		g.writeError(w, types.NewError(types.ErrRateLimit, "per-key rate limit exceeded").
			WithHTTPStatus(429).WithRetryable(true))
		return false
	}
	return true
}

// checkBudget consults the process-wide budget safety valve, if one is
// wired, rejecting the request before it ever reaches the router. estTokens
// is a rough pre-dispatch estimate; the real usage is recorded afterward
// via recordBudgetUsage once the provider response is known.
func (g *Gateway) checkBudget(w http.ResponseWriter, estTokens int) bool {
	if g.Budget == nil {
		return true
	}
	if err := g.Budget.CheckBudget(context.Background(), estTokens, 0); err != nil {
		g.writeError(w, types.NewError(types.ErrBudgetExceeded, err.Error()).
			WithHTTPStatus(429).WithRetryable(true))
		return false
	}
	return true
}

// recordBudgetUsage feeds actual token usage back into the budget safety
// valve once a dispatch completes, so its windows track real consumption
// rather than the pre-dispatch estimate.
func (g *Gateway) recordBudgetUsage(model string, tokens int) {
	if g.Budget == nil || tokens <= 0 {
		return
	}
	g.Budget.RecordUsage(budget.UsageRecord{
		Timestamp: time.Now(),
		Tokens:    tokens,
		Model:     model,
	})
}

// checkModelType rejects a request whose model is registered under a
// different model_type than expected. An unknown
// model is let through here: it's the router's job to fail it with a
// no-healthy-deployments error (503) once no deployment or direct
// adapter is found at all.
func (g *Gateway) checkModelType(ctx context.Context, w http.ResponseWriter, model string, expected controlplane.ModelType) bool {
	if g.ModelTypes == nil {
		return true
	}
	actual, found, err := g.ModelTypes.ModelTypeFor(ctx, model)
	if err != nil || !found {
		return true
	}
	if actual != expected {
		g.writeError(w, types.NewError(types.ErrInvalidRequest,
			"model "+model+" is not a "+string(expected)+" model").
			WithHTTPStatus(400).WithParam("model"))
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, wireError{Error: wireErrorBody{
			Message: "invalid JSON body: " + err.Error(),
			Type:    "invalid_request_error",
			Code:    string(types.ErrInvalidRequest),
		}})
		return false
	}
	return true
}
