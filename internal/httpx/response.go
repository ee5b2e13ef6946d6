// Package httpx implements the response envelope shared by every service:
// {"success": bool, "data": ..., "message": string}. Persistence failures
// surface as 5xx envelopes; recipient-offline situations never do.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Envelope is the uniform JSON body of every HTTP response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data any, message string) {
	write(w, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

// Fail writes a failure envelope with the given status code.
func Fail(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Success: false, Message: message})
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// Decode parses a JSON request body into dst.
func Decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
