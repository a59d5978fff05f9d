package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxBodyBytes bounds request bodies; API payloads are tiny.
const maxBodyBytes = 1 << 20

// readBody reads and validates a JSON request body. On failure it
// writes a 400 and returns ok=false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return nil, false
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return nil, false
	}
	return body, true
}

// writeJSON encodes v as the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
