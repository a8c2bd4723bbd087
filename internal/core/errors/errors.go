package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpInvalidRequestError = "invalid_request"
	HttpJobConflictError    = "job_already_running"
	HttpNotFoundError       = "not_found"
	HttpUpstreamError       = "upstream_unavailable"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
