/*Package response implements the uniform response envelope.

Every route, generated or custom, answers with the same JSON shape:

	{"message": ..., "status": ..., "data": ..., "error": ...}

List responses additionally carry a meta object with the pagination
summary. Successful requests answer with HTTP 200 across the board;
failures map the error category to a status code but keep the envelope.
*/
package response

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/succeedex/modelapi/core/logger"
)

// Envelope is the uniform response body.
type Envelope struct {
	Message string      `json:"message"`
	Status  bool        `json:"status"`
	Data    interface{} `json:"data"`
	Error   interface{} `json:"error"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta is the pagination summary attached to list responses.
type Meta struct {
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
	CurrentPage  int `json:"current_page"`
	PageSize     int `json:"page_size"`
}

// NewMeta computes the pagination summary for a filtered total.
func NewMeta(totalRecords, currentPage, pageSize int) *Meta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (totalRecords + pageSize - 1) / pageSize
	}
	return &Meta{
		TotalRecords: totalRecords,
		TotalPages:   totalPages,
		CurrentPage:  currentPage,
		PageSize:     pageSize,
	}
}

func write(w http.ResponseWriter, r *http.Request, code int, envelope Envelope) {
	body, err := json.Marshal(envelope)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4301: cannot marshal response")
		http.Error(w, "Error 4301", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, r *http.Request, message string, data interface{}) {
	write(w, r, http.StatusOK, Envelope{Message: message, Status: true, Data: data})
}

// List writes a success envelope with a pagination summary.
func List(w http.ResponseWriter, r *http.Request, message string, data interface{}, meta *Meta) {
	write(w, r, http.StatusOK, Envelope{Message: message, Status: true, Data: data, Meta: meta})
}

func fail(w http.ResponseWriter, r *http.Request, code int, message string, detail interface{}) {
	write(w, r, code, Envelope{Message: message, Status: false, Error: detail})
}

// Validation reports a malformed request, e.g. a bad filter expression
// or an out-of-range page parameter.
func Validation(w http.ResponseWriter, r *http.Request, message string) {
	fail(w, r, http.StatusBadRequest, message, message)
}

// FieldErrors reports payload validation failures, one entry per
// offending field.
func FieldErrors(w http.ResponseWriter, r *http.Request, message string, fields interface{}) {
	fail(w, r, http.StatusUnprocessableEntity, message, fields)
}

// Unauthenticated reports missing or unusable credentials.
func Unauthenticated(w http.ResponseWriter, r *http.Request) {
	fail(w, r, http.StatusUnauthorized, "authentication required", "authentication required")
}

// Forbidden reports an authenticated caller without a sufficient role.
func Forbidden(w http.ResponseWriter, r *http.Request) {
	fail(w, r, http.StatusForbidden, "permission denied", "permission denied")
}

// NotFound reports a missing record.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	fail(w, r, http.StatusNotFound, message, message)
}

// Conflict reports a database constraint violation, e.g. a duplicate
// value on a unique field.
func Conflict(w http.ResponseWriter, r *http.Request, message string) {
	fail(w, r, http.StatusBadRequest, message, message)
}

// Unexpected reports an internal failure. The marker is an opaque
// error number; details stay in the server log.
func Unexpected(w http.ResponseWriter, r *http.Request, marker string) {
	fail(w, r, http.StatusBadRequest, marker, marker)
}
