package api

import (
	"net/http"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/gorilla/mux"
)

// Trial serves a read of one API under the per-API free trial counter,
// independent of the caller's tier bucket.
func (h *Handler) Trial(w http.ResponseWriter, r *http.Request) {
	api := mux.Vars(r)["api"]
	user := caller(r)

	if !h.FreeTrial.Allow(user, api) {
		apierr.EncodeHTTP(w, apierr.Errorf(apierr.ERateLimited, "api.Trial",
			"free trial limit reached for API '%s'", api))
		return
	}

	docs, err := h.Engine.ReadAll(r.Context(), api, user)
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"api":       api,
		"remaining": h.FreeTrial.Remaining(user, api),
		"documents": docs,
	})
}
