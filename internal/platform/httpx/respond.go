package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/serat-auto/backoffice/internal/shared"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON envelope of every failed request.
type ErrorBody struct {
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends an error envelope.
func Error(w http.ResponseWriter, status int, kind, message string, details map[string]any) {
	JSON(w, status, ErrorBody{
		Message: message,
		Error:   kind,
		Status:  status,
		Details: details,
	})
}

// Message sends a plain {"message": ...} body, optionally merged with extra fields.
func Message(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{"message": message}
	for k, v := range extra {
		body[k] = v
	}
	JSON(w, status, body)
}

// DecodeJSON decodes JSON request body into the target struct. Malformed bodies become validation errors.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return shared.Invalid("body", "request body required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.Invalid("body", "request body required")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return shared.Invalid(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type))
		}
		var fieldErr *shared.ValidationError
		if errors.As(err, &fieldErr) {
			return fieldErr
		}
		return shared.Invalid("body", "malformed JSON")
	}
	return nil
}
