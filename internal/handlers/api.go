package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    apperr.Code `json:"code,omitempty"`
	// RetryAfter is in whole seconds.
	RetryAfter int    `json:"retry_after,omitempty"`
	Message    string `json:"message,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Warn("Error encoding JSON response: %v", err)
	}
}

func writeAPISuccess(w http.ResponseWriter, data interface{}) {
	writeAPIResponse(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func writeAPICreated(w http.ResponseWriter, data interface{}) {
	writeAPIResponse(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

func writeAPIError(w http.ResponseWriter, message string, statusCode int) {
	writeAPIResponse(w, statusCode, APIResponse{Success: false, Error: message})
}

// writeAppError answers with the status and code of err. Errors that are not
// an *apperr.Error are logged and reported as internal.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Warn("Unhandled error: %v", err)
		writeAPIResponse(w, http.StatusInternalServerError, APIResponse{
			Error: "internal error",
			Code:  apperr.CodeInternal,
		})
		return
	}

	if appErr.Code == apperr.CodeInternal || appErr.Code == apperr.CodeSideEffectFailed {
		log.Warn("Request failed: %v", err)
	}
	response := APIResponse{Error: appErr.Message, Code: appErr.Code}
	if appErr.RetryAfter > 0 {
		response.RetryAfter = int(math.Ceil(appErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(response.RetryAfter))
	}
	writeAPIResponse(w, apperr.HTTPStatus(appErr.Code), response)
}

// decodeBody reads a JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeValidationFailed, "invalid request body", err)
	}
	return nil
}

// pathID parses a numeric route variable.
func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.New(apperr.CodeValidationFailed, "invalid %s %q", name, raw)
	}
	return uint(id), nil
}

// queryID parses an optional numeric query parameter.
func queryID(r *http.Request, name string) (*uint, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return nil, apperr.New(apperr.CodeValidationFailed, "invalid %s %q", name, raw)
	}
	v := uint(id)
	return &v, nil
}
