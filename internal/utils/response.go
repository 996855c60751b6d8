package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-checkout/internal/apperrors"
)

type APIResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Data      interface{}       `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now().UTC(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError renders err with the status of its kind. Internal errors never
// leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	resp := ErrorResponse(kind.String(), err.Error())
	if kind == apperrors.KindInternal {
		resp.Error = "internal server error"
	}
	resp.Fields = apperrors.FieldsOf(err)
	WriteJSON(w, kind.StatusCode(), resp)
}
