package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/snarg/caption-engine/internal/transcribe"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// StatusForKind maps a pipeline error kind to its HTTP status.
func StatusForKind(k transcribe.Kind) int {
	switch k {
	case transcribe.KindUnavailable:
		return http.StatusServiceUnavailable
	case transcribe.KindInvalidInput:
		return http.StatusBadRequest
	case transcribe.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WritePipelineError writes err using its kind's status. Errors that are not
// pipeline errors are reported as a generic 500.
func WritePipelineError(w http.ResponseWriter, err error) {
	var e *transcribe.Error
	if !errors.As(err, &e) {
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	WriteErrorDetail(w, StatusForKind(e.Kind), e.Msg, e.Detail)
}

// ParseFormBool parses a boolean form field. An empty value yields def.
// Besides strconv.ParseBool's forms it accepts yes/no and on/off.
func ParseFormBool(v string, def bool) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}
