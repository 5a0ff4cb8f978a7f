package response

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Meta       *Meta       `json:"meta,omitempty"`
	Warnings   interface{} `json:"warnings,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Meta describes the page of a list response
type Meta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// SuccessWithPagination wraps one page of a list
func SuccessWithPagination(statusCode int, data interface{}, page, limit int, total int64) Response {
	res := Success(statusCode, data)
	res.Meta = &Meta{Page: page, Limit: limit, Total: total}
	return res
}

// SuccessWithWarnings is a success whose side effects partially failed.
// warnings is left out of the body when it is nil.
func SuccessWithWarnings(statusCode int, data interface{}, warnings interface{}) Response {
	res := Success(statusCode, data)
	res.Warnings = warnings
	return res
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}
