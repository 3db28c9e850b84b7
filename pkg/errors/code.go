package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission intake errors
// 13100-13199: Check service errors
// 13300-13309: Checker configuration errors
// 13310-13399: Execution infrastructure errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError ErrorCode = 10100

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Check Module Errors (13000-13999) ==========

	// Submission intake (13000-13099)
	SubmissionNotFound ErrorCode = 13000
	SourceFetchFailed  ErrorCode = 13001
	SourceTooLarge     ErrorCode = 13002
	SourceNameInvalid  ErrorCode = 13003

	// Check service (13100-13199)
	CheckQueueFull   ErrorCode = 13100
	CheckSystemError ErrorCode = 13101
	ReportNotFound   ErrorCode = 13102

	// Checker configuration (13300-13309)
	CheckConfigInvalid ErrorCode = 13300
	NoMatchingSources  ErrorCode = 13301
	CheckerKindUnknown ErrorCode = 13302

	// Execution infrastructure (13310-13399)
	BackendUnavailable   ErrorCode = 13310
	WorkDirUnusable      ErrorCode = 13311
	CheckExecutionFailed ErrorCode = 13312
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError: "Database operation failed",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission intake
	SubmissionNotFound: "Submission not found",
	SourceFetchFailed:  "Failed to fetch submission sources",
	SourceTooLarge:     "Submission source is too large",
	SourceNameInvalid:  "Invalid source file name",

	// Check service
	CheckQueueFull:   "Check queue is full, please try again later",
	CheckSystemError: "Check system error",
	ReportNotFound:   "Check report not found",

	// Checker configuration
	CheckConfigInvalid: "Checker is misconfigured",
	NoMatchingSources:  "No submitted file matches the checker's file pattern",
	CheckerKindUnknown: "Unknown checker kind",

	// Execution infrastructure
	BackendUnavailable:   "Isolation backend is unavailable",
	WorkDirUnusable:      "Working directory is unusable",
	CheckExecutionFailed: "Could not execute check",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsConfiguration reports whether the code marks an authoring error in a checker definition.
func (c ErrorCode) IsConfiguration() bool {
	return c >= 13300 && c < 13310
}

// IsInfrastructure reports whether the code marks a failure of the execution machinery itself.
func (c ErrorCode) IsInfrastructure() bool {
	return c >= 13310 && c < 13400
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == SubmissionNotFound, c == ReportNotFound:
		return 404
	case c == TooManyRequests, c == CheckQueueFull:
		return 429
	case c == ServiceUnavailable, c == BackendUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == SourceNameInvalid:
		return 400
	case c.IsConfiguration():
		return 422
	default:
		return 500
	}
}
