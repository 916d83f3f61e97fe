package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Run request validation errors
// 13100-13199: Job execution errors
// 13200-13299: File cache errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Run Request Errors (13000-13099) ==========

	LanguageNotSupported  ErrorCode = 13000
	InvalidSourceFilename ErrorCode = 13001
	InvalidFileSpec       ErrorCode = 13002
	CPUTimeExceeded       ErrorCode = 13003
	APIKeyMissing         ErrorCode = 13004
	APIKeyUnknown         ErrorCode = 13005
	RunRateExceeded       ErrorCode = 13006

	// ========== Job Execution Errors (13100-13199) ==========

	ServerOverload   ErrorCode = 13100
	SandboxError     ErrorCode = 13101
	WorkspaceError   ErrorCode = 13102
	VersionProbeFail ErrorCode = 13103

	// ========== File Cache Errors (13200-13299) ==========

	FileNotFound     ErrorCode = 13200
	FileTooLarge     ErrorCode = 13201
	FileWriteFailed  ErrorCode = 13202
	InvalidFileData  ErrorCode = 13203
	RemoteTierFailed ErrorCode = 13204
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Run request
	LanguageNotSupported:  "Language is not known",
	InvalidSourceFilename: "The sourcefilename for the run_spec is illegal",
	InvalidFileSpec:       "Invalid file specifier",
	CPUTimeExceeded:       "cputime exceeds maximum allowed on this Jobe server",
	APIKeyMissing:         "Missing API key",
	APIKeyUnknown:         "Unknown API key",
	RunRateExceeded:       "Max RUN rate for this server exceeded",

	// Job execution
	ServerOverload:   "No free execution slot",
	SandboxError:     "Sandbox invocation failed",
	WorkspaceError:   "Job workspace operation failed",
	VersionProbeFail: "Language version probe failed",

	// File cache
	FileNotFound:     "File not found",
	FileTooLarge:     "File too large to load",
	FileWriteFailed:  "Failed to write file to cache",
	InvalidFileData:  "File contents are not valid base-64",
	RemoteTierFailed: "Remote file tier operation failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success, c == ServerOverload: // overload is reported in a 200 result body
		return http.StatusOK
	case c == Unauthorized:
		return http.StatusUnauthorized
	case c == Forbidden, c == APIKeyMissing, c == APIKeyUnknown:
		return http.StatusForbidden
	case c == NotFound, c == FileNotFound:
		return http.StatusNotFound
	case c == TooManyRequests, c == RunRateExceeded:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable:
		return http.StatusServiceUnavailable
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c >= 13000 && c < 13100: // Run request errors
		return http.StatusBadRequest
	case c == InvalidParams, c == InvalidFileData:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
