package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"executor/runtime"
)

func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	var params runtime.CommandParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, runtime.NewError(runtime.ExecutionBadJSON, "Invalid JSON body"))
		return
	}

	result, err := h.manager.Command(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
