package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError renders the API failure envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
		"error": map[string]string{
			"code":    code,
			"details": message,
		},
	})
}
