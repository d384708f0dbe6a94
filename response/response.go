package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform JSON body for all API responses
type Envelope struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will write the given result as a JSON envelope with status 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Envelope{
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will write the given *Error as a JSON envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	messages := e.Messages
	if len(messages) == 0 {
		messages = []string{e.Message}
	}
	json.NewEncoder(w).Encode(Envelope{
		Result:   e.Result,
		Messages: messages,
	})
}
