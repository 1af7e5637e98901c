package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Status codes of structured errors, as seen by callable clients.
const (
	StatusInvalidArgument = "INVALID_ARGUMENT"
	StatusUnauthenticated = "UNAUTHENTICATED"
	StatusInternal        = "INTERNAL"
)

// APIError is a structured error written as
//
//	{"error":{"status":"INTERNAL","message":"...","details":{...}}}
type APIError struct {
	Status     string
	Message    string
	Details    map[string]string
	HTTPStatus int
}

func (e APIError) Error() string { return e.Status + ": " + e.Message }

// Withf returns a copy with the message replaced.
func (e APIError) Withf(format string, args ...any) APIError {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithDetail returns a copy carrying one more detail.
func (e APIError) WithDetail(k, v string) APIError {
	d := make(map[string]string, len(e.Details)+1)
	for dk, dv := range e.Details {
		d[dk] = dv
	}
	d[k] = v
	e.Details = d
	return e
}

func (e APIError) MarshalJSON() ([]byte, error) {
	type body struct {
		Status  string            `json:"status"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	}
	return json.Marshal(struct {
		Error body `json:"error"`
	}{body{e.Status, e.Message, e.Details}})
}

func (e APIError) Write(w http.ResponseWriter) {
	b, err := json.Marshal(e)
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatus)
	_, _ = w.Write(b)
}

var (
	ErrInvalidArgument = APIError{Status: StatusInvalidArgument, Message: "invalid request", HTTPStatus: http.StatusBadRequest}
	ErrUnauthenticated = APIError{Status: StatusUnauthenticated, Message: "authentication required", HTTPStatus: http.StatusUnauthorized}
	ErrInternal        = APIError{Status: StatusInternal, Message: "internal error", HTTPStatus: http.StatusInternalServerError}
)
