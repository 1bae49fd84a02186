package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"executor/runtime"
)

// responseFormatCutoff is the first client version that understands
// list-valued headers; older clients get the last value only.
const responseFormatCutoff = "0.11.0"

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var params runtime.ExecuteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, runtime.NewError(runtime.ExecutionBadJSON, "Invalid JSON body"))
		return
	}
	params.RuntimeID = chi.URLParam(r, "id")

	result, err := h.manager.Execute(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	if format := r.Header.Get("x-executor-response-format"); format != "" && format < responseFormatCutoff {
		runtime.CollapseHeaders(result.Headers)
	}

	if acceptsJSON(r.Header.Get("Accept")) {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeMultipart(w, result)
}

func acceptsJSON(accept string) bool {
	return strings.Contains(accept, "application/json") || strings.Contains(accept, "application/*")
}

// writeMultipart renders the execution result as multipart/form-data,
// one part per JSON field. Non-primitive values are JSON-encoded.
func writeMultipart(w http.ResponseWriter, result *runtime.ExecutionResult) {
	boundary := "----WebKitFormBoundary" + strconv.FormatInt(time.Now().UnixMilli(), 36)

	fields := []struct {
		name  string
		value string
	}{
		{"statusCode", strconv.Itoa(result.StatusCode)},
		{"headers", jsonField(result.Headers)},
		{"body", result.Body},
		{"logs", result.Logs},
		{"errors", result.Errors},
		{"duration", strconv.FormatFloat(result.Duration, 'f', -1, 64)},
		{"startTime", strconv.FormatFloat(result.StartTime, 'f', -1, 64)},
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=%q\r\n\r\n", f.name))
		b.WriteString(f.value)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--")

	w.Header().Set("Content-Type", "multipart/form-data; boundary="+boundary)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func jsonField(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
