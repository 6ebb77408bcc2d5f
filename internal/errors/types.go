package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// RainError is a structured error type with context.
type RainError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Component string
	URL       string
	Line      int
	Column    int
}

// Error implements the error interface.
func (e *RainError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.URL != "" {
		location := e.URL
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *RainError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *RainError) Is(target error) bool {
	var t *RainError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *RainError) WithContext(key string, value interface{}) *RainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds source location information.
func (e *RainError) WithLocation(url string, line, column int) *RainError {
	e.URL = url
	e.Line = line
	e.Column = column

	return e
}

// WithComponent adds component context.
func (e *RainError) WithComponent(component string) *RainError {
	e.Component = component

	return e
}

// NewParseError creates a markup parse error.
func NewParseError(code, message string) *RainError {
	return &RainError{
		Type:    ErrorTypeParse,
		Code:    code,
		Message: message,
	}
}

// NewResolutionError creates an error for an unknown component, view or path.
func NewResolutionError(code, message string) *RainError {
	return &RainError{
		Type:    ErrorTypeResolution,
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *RainError {
	return &RainError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *RainError {
	return &RainError{
		Type:    ErrorTypeSecurity,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *RainError {
	return &RainError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *RainError {
	return &RainError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *RainError {
	return &RainError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func isType(err error, typ ErrorType) bool {
	var re *RainError
	if errors.As(err, &re) {
		return re.Type == typ
	}

	return false
}

// IsParse checks if an error came from markup parsing.
func IsParse(err error) bool { return isType(err, ErrorTypeParse) }

// IsResolution checks if an error is a resolution failure.
func IsResolution(err error) bool { return isType(err, ErrorTypeResolution) }

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool { return isType(err, ErrorTypeSecurity) }

// IsIO checks if an error is an I/O failure.
func IsIO(err error) bool { return isType(err, ErrorTypeIO) }

// GetContext returns the context map of the first RainError in the chain.
func GetContext(err error) map[string]interface{} {
	var re *RainError
	if errors.As(err, &re) {
		return re.Context
	}

	return nil
}

// HTTPStatus maps an error to the status code the view handler answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case IsResolution(err):
		return http.StatusNotFound
	case isType(err, ErrorTypeValidation), IsSecurityError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level that matches its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var re *RainError
	if !errors.As(err, &re) {
		h.logger.Error(ctx, err, "Unhandled error occurred")

		return
	}

	switch re.Type {
	case ErrorTypeResolution, ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Request could not be resolved",
			"type", re.Type,
			"code", re.Code,
			"component", re.Component)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", re.Type,
			"code", re.Code,
			"component", re.Component,
			"url", re.URL)
	}
}

// Common error codes.
const (
	ErrCodeInvalidPath        = "ERR_INVALID_PATH"
	ErrCodePathTraversal      = "ERR_PATH_TRAVERSAL"
	ErrCodeComponentNotFound  = "ERR_COMPONENT_NOT_FOUND"
	ErrCodeViewNotFound       = "ERR_VIEW_NOT_FOUND"
	ErrCodeMismatchedTag      = "ERR_MISMATCHED_TAG"
	ErrCodeUnclosedElement    = "ERR_UNCLOSED_ELEMENT"
	ErrCodeUnterminatedTag    = "ERR_UNTERMINATED_TAG"
	ErrCodeTokenizer          = "ERR_TOKENIZER"
	ErrCodeResourceLoad       = "ERR_RESOURCE_LOAD"
	ErrCodeTemplate           = "ERR_TEMPLATE"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound       = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError      = "ERR_INTERNAL"
	ErrCodeValidationFailed   = "ERR_VALIDATION_FAILED"
	ErrCodeSessionReplication = "ERR_SESSION_REPLICATION"
)
