package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// ErrorBody is the JSON error envelope returned by the gateway.
type ErrorBody struct {
	Code    apperrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes err as an ErrorBody. Uncoded errors become INTERNAL
// and their message is not exposed.
func WriteErrorResponse(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("internal error", err)
	}
	status := se.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, ErrorBody{Code: se.Code, Message: se.Message, Details: se.Details})
}

// DecodeJSONBody strictly decodes a request body of at most limit bytes.
// Unknown fields are rejected. Coded errors from custom unmarshalers are kept.
func DecodeJSONBody(r *http.Request, limit int64, target interface{}) error {
	if r.Body == nil {
		return apperrors.InvalidInput("empty request body")
	}
	body, err := ReadAllStrict(r.Body, limit)
	if err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if err := DecodeStrict(body, target); err != nil {
		if se := apperrors.GetServiceError(err); se != nil {
			return se
		}
		return apperrors.InvalidInput(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
