package httpkit

import (
	"encoding/json"
	"net/http"
)

// Result is the envelope the intake route answers with. Body carries a
// human-readable outcome: "Put item <id>" on success, the error message
// otherwise.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// DecodeJSON decodes a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteResult writes a Result whose statusCode mirrors the HTTP status.
func WriteResult(w http.ResponseWriter, status int, body string) {
	WriteJSON(w, status, Result{StatusCode: status, Body: body})
}
