package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"executor/runtime"
)

func (h *Handler) CreateRuntime(w http.ResponseWriter, r *http.Request) {
	var params runtime.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, runtime.NewError(runtime.ExecutionBadJSON, "Invalid JSON body"))
		return
	}

	result, err := h.manager.Create(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListRuntimes(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.ParseInt(l, 10, 64)
	}
	continueToken := r.URL.Query().Get("continue")

	page, err := h.manager.List(r.Context(), limit, continueToken)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-PAGINATION-LIMIT", strconv.FormatInt(page.Limit, 10))
	w.Header().Set("X-PAGINATION-CONTINUE", page.Continue)
	w.Header().Set("X-PAGINATION-REMAINING", strconv.FormatInt(page.Remaining, 10))
	writeJSON(w, http.StatusOK, page.Runtimes)
}

func (h *Handler) GetRuntime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	descriptor, err := h.manager.Describe(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (h *Handler) DeleteRuntime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.manager.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
