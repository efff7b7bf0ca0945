package api

import (
	"net/http"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/docstore"
	"github.com/gorilla/mux"
)

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var payload docstore.Document
	if err := decodeJSON(w, r, &payload); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	doc, err := h.Engine.Create(r.Context(), mux.Vars(r)["api"], payload, caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) ReadAllDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Engine.ReadAll(r.Context(), mux.Vars(r)["api"], caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}
	if docs == nil {
		docs = []docstore.Document{}
	}

	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var filter docstore.Filter
	if err := decodeJSON(w, r, &filter); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	docs, err := h.Engine.Search(r.Context(), mux.Vars(r)["api"], filter, caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var payload docstore.Document
	if err := decodeJSON(w, r, &payload); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	doc, err := h.Engine.Update(r.Context(), mux.Vars(r)["api"], payload, caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var filter docstore.Filter
	if err := decodeJSON(w, r, &filter); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	n, err := h.Engine.Delete(r.Context(), mux.Vars(r)["api"], filter, caller(r))
	if err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
