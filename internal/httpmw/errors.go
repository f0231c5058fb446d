package httpmw

import (
	"encoding/json"
	"net/http"
)

// errorBody mirrors the API error envelope so middleware rejections look the
// same as handler errors to clients
type errorBody struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{StatusCode: status, Message: msg})
}
