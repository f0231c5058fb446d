package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
)

// Response messages shared by every handler. Clients match on some of these
// strings, keep them stable.
const (
	MsgRetrieved      = "Data retrieved successfully"
	MsgCreated        = "Data created successfully"
	MsgDeleted        = "Data deleted successfully"
	MsgHealthy        = "Server is healthy"
	MsgBadRequest     = "Bad request"
	MsgNotFound       = "Resource not found"
	MsgUserNotFound   = "User not found"
	MsgInvalidUserID  = "Invalid user ID"
	MsgMethodNotAllow = "Method not allowed"
	MsgTooLarge       = "Request body too large"
	MsgInternal       = "Internal server error"
	MsgRequiredField  = "This field is required"
	MsgInvalidEmail   = "Please provide a valid email address"
)

// Envelope wraps every JSON body this API returns. Data is omitted on errors.
type Envelope struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func (api *API) ok(w http.ResponseWriter, r *http.Request, status int, msg string, data any) {
	api.writeJSON(r.Context(), w, status, Envelope{
		Success:    true,
		StatusCode: status,
		Message:    msg,
		Data:       data,
	})
}

// fail writes an error envelope and remembers msg so Observe can file it with
// the aggregator.
func (api *API) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	noteError(r.Context(), msg)
	api.writeJSON(r.Context(), w, status, Envelope{
		StatusCode: status,
		Message:    msg,
	})
}
