package api

import (
	"encoding/json"
	"net/http"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
)

// GenerateSchema drafts a JSON Schema from a plain language prompt. The
// result is returned for review and is not registered.
func (h *Handler) GenerateSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	schema, err := h.Generator.GenerateSchema(r.Context(), req.Prompt)
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"schema": schema})
}

// GenerateTestData returns sample data for the JSON Schema in the body.
func (h *Handler) GenerateTestData(w http.ResponseWriter, r *http.Request) {
	var schema json.RawMessage
	if err := decodeJSON(w, r, &schema); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	data, err := h.Generator.GenerateTestData(r.Context(), schema)
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}
