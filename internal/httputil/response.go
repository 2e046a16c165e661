// Package httputil holds JSON request/response helpers shared by the HTTP layer
// and the outbound client used for third-party APIs.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/pkg/logger"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON envelope for failed requests.
type ErrorBody struct {
	Error   ErrorDetail `json:"error"`
	TraceID string      `json:"trace_id,omitempty"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes an error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	body := ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}}
	if r != nil {
		body.TraceID = logger.GetTraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteError maps err to a status and writes it. Non service errors become 500
// with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := svcerrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = svcerrors.Internal("internal server error", err)
	}
	WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// DecodeJSON decodes a bounded JSON body, rejecting unknown fields.
func DecodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return svcerrors.InvalidInput("request body is required")
		}
		return svcerrors.InvalidInput(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
