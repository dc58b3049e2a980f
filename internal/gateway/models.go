package gateway

import (
	"net/http"

	"github.com/gatewayllm/gatewayllm/types"
)

// modelObject is the OpenAI-shaped `GET /v1/models` list element.
type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// HandleListModels implements GET /v1/models: the union of database
// deployments and the static-config model list, deduplicated by
// model_name, first-seen wins.
func (g *Gateway) HandleListModels(w http.ResponseWriter, r *http.Request) {
	ac, ok := g.authenticate(w, r)
	if !ok {
		return
	}

	seen := make(map[string]bool)
	out := make([]modelObject, 0)

	if g.Models != nil {
		names, err := g.Models.ListActiveModelNames(r.Context(), ac.OrgID)
		if err == nil {
			for _, name := range names {
				if !seen[name] {
					seen[name] = true
					out = append(out, modelObject{ID: name, Object: "model"})
				}
			}
		} else {
			g.Logger.Warn("models: db lookup failed, falling back to static list")
		}
	}
	for _, m := range g.StaticModels {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, modelObject{ID: m.ID, Object: "model", OwnedBy: m.OwnedBy})
		}
	}

	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: out})
}

// HandleGetModel implements GET /v1/models/{id}.
func (g *Gateway) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	ac, ok := g.authenticate(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if g.Models != nil {
		names, err := g.Models.ListActiveModelNames(r.Context(), ac.OrgID)
		if err == nil {
			for _, name := range names {
				if name == id {
					writeJSON(w, http.StatusOK, modelObject{ID: id, Object: "model"})
					return
				}
			}
		}
	}
	for _, m := range g.StaticModels {
		if m.ID == id {
			writeJSON(w, http.StatusOK, modelObject{ID: id, Object: "model", OwnedBy: m.OwnedBy})
			return
		}
	}

	g.writeError(w, types.NewError(types.ErrNotFound, "model not found: "+id).WithHTTPStatus(404))
}
