package proxy

import (
	"encoding/json"
	"net/http"
)

// handleInfo implements spec §6's GET /v1/info: server metadata including
// the model list. The HTTP framework/admin-dashboard concerns this
// endpoint also touches upstream are out of this system's scope (spec §1);
// this handler only returns the fields the core owns.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	models := s.catalog.ListModels()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":        "routstr",
		"description": "paid reverse proxy for an OpenAI-compatible LLM API, billed via ecash",
		"models":      models,
		"mints":       []string{s.wallet.PrimaryMintURL()},
	})
}

// handleModels implements spec §6's GET /v1/models: {"data": [Model]}.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": s.catalog.ListModels()})
}
