package failures

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// APIErrorDetail is a single entry of the standardized error body.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
	Family string `json:"family,omitempty"`
}

// APIErrorResponse is the standardized error body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteJSON writes err as a standardized error response. Unclassified errors
// are reported as internal without leaking their text.
func WriteJSON(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	detail := APIErrorDetail{
		Code:   string(kind),
		Detail: Message(err),
	}
	var e *Error
	if errors.As(err, &e) {
		detail.Family = e.Family
	}
	WriteAPIError(w, HTTPStatus(kind), detail)
}

// WriteAPIError writes a standardized error response with the given status.
func WriteAPIError(w http.ResponseWriter, httpStatus int, detail APIErrorDetail) {
	detail.Status = strconv.Itoa(httpStatus)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{Errors: []APIErrorDetail{detail}})
}
