package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"executor/runtime"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handler: encode response: %v", err)
	}
}

// writeError renders the stable {type, message, code} error body.
// Untyped failures collapse to general_unknown; nothing else leaks.
func writeError(w http.ResponseWriter, err error) {
	e := runtime.AsError(err)
	writeJSON(w, e.Code, map[string]any{
		"type":    string(e.Kind),
		"message": e.Message,
		"code":    e.Code,
	})
}
