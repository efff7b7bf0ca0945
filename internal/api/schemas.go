package api

import (
	"encoding/json"
	"net/http"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/gorilla/mux"
)

// schemaRequest accepts the schema either as a JSON object or as a string
// holding one.
type schemaRequest struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

func (req schemaRequest) schemaText() string {
	if len(req.Schema) == 0 || string(req.Schema) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(req.Schema, &s); err == nil {
		return s
	}
	return string(req.Schema)
}

func (h *Handler) CreateSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	def, err := h.Registry.Register(r.Context(), req.Name, req.schemaText(), caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, def)
}

func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Registry.ListByOwner(r.Context(), caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	def, err := h.Registry.Find(r.Context(), mux.Vars(r)["name"], caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) UpdateSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	def, err := h.Registry.Update(r.Context(), mux.Vars(r)["name"], caller(r), req.Name, req.schemaText())
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Delete(r.Context(), mux.Vars(r)["name"], caller(r)); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SchemaStats reports lifetime usage of one of the caller's APIs.
func (h *Handler) SchemaStats(w http.ResponseWriter, r *http.Request) {
	def, err := h.Registry.Find(r.Context(), mux.Vars(r)["name"], caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	total, successRate, avg := h.Ledger.APIStats(def.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"api":             def.Name,
		"totalCalls":      total,
		"successRate":     successRate,
		"avgResponseTime": avg,
	})
}
