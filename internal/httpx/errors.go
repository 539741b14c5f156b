package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"relayd/internal/relay"
)

// Business error codes
const (
	// Success
	CodeSuccess = 0

	// Authentication/Authorization errors (1000-1099)
	CodeUnauthorized = 1001 // Not logged in / Token missing
	CodeInvalidToken = 1002 // Token invalid
	CodeTokenExpired = 1003 // Token expired
	CodeForbidden    = 1004 // No permission

	// Parameter errors (2000-2099)
	CodeParamMissing  = 2001 // Parameter missing
	CodeParamInvalid  = 2002 // Parameter format error
	CodeParamIllegal  = 2003 // Parameter value illegal
	CodeInvalidCSR    = 2004 // CSR cannot be parsed or verified
	CodeDecompression = 2005 // Payload cannot be inflated

	// Resource/Business errors (3000-3999)
	CodeNotFound          = 3001 // Resource not found
	CodeAlreadyExists     = 3002 // Resource already exists
	CodeTooManyTasks      = 3004 // Relay task capacity reached
	CodeInvalidTransition = 3005 // Task already in a terminal state

	// System errors (5000-5999)
	CodeInternalError = 5001 // Internal service error
	CodeExternalError = 5003 // External dependency failure
	CodeUnavailable   = 5004 // Feature not configured
)

// AppError represents an application error with HTTP status and business code
type AppError struct {
	HTTPStatus int         // HTTP status code
	Code       int         // Business error code
	Message    string      // User-facing error message
	Err        error       // Internal error (for logging only, not returned to client)
	Data       interface{} // Additional data (for detailed error information)
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, message=%s, err=%v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// WithData adds additional data to the error
func (e *AppError) WithData(data interface{}) *AppError {
	e.Data = data
	return e
}

// NewAppError creates a new AppError
func NewAppError(httpStatus, code int, message string, err error) *AppError {
	return &AppError{
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

// FromError translates a domain error into an AppError.
// Unknown errors become 500 and keep the cause for logging.
func FromError(err error) *AppError {
	var (
		appErr        *AppError
		conflict      *relay.ConflictError
		tooMany       *relay.TooManyTasksError
		taskNotFound  *relay.TaskNotFoundError
		relayNotFound *relay.RelayNotFoundError
		transition    *relay.InvalidTransitionError
		invalidCSR    *relay.InvalidCSRError
		decompression *relay.DecompressionError
	)

	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &conflict):
		return ErrAlreadyExists(conflict.Error())
	case errors.As(err, &tooMany):
		return NewAppError(http.StatusForbidden, CodeTooManyTasks, tooMany.Error(), nil).
			WithData(map[string]interface{}{"relayId": tooMany.RelayID, "limit": tooMany.Limit})
	case errors.As(err, &taskNotFound):
		return ErrNotFound(taskNotFound.Error())
	case errors.As(err, &relayNotFound):
		return ErrNotFound(relayNotFound.Error())
	case errors.As(err, &transition):
		return NewAppError(http.StatusConflict, CodeInvalidTransition, transition.Error(), nil)
	case errors.As(err, &invalidCSR):
		return NewAppError(http.StatusBadRequest, CodeInvalidCSR, invalidCSR.Error(), nil)
	case errors.As(err, &decompression):
		return NewAppError(http.StatusBadRequest, CodeDecompression, decompression.Error(), nil)
	default:
		return ErrInternalError("", err)
	}
}

// Authentication/Authorization error constructors

// ErrUnauthorized creates a 401 unauthorized error
func ErrUnauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// ErrInvalidToken creates a 401 invalid token error
func ErrInvalidToken(message string) *AppError {
	if message == "" {
		message = "invalid token"
	}
	return NewAppError(http.StatusUnauthorized, CodeInvalidToken, message, nil)
}

// ErrTokenExpired creates a 401 token expired error
func ErrTokenExpired(message string) *AppError {
	if message == "" {
		message = "token expired"
	}
	return NewAppError(http.StatusUnauthorized, CodeTokenExpired, message, nil)
}

// ErrForbidden creates a 403 forbidden error
func ErrForbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return NewAppError(http.StatusForbidden, CodeForbidden, message, nil)
}

// Parameter error constructors

// ErrParamMissing creates a 400 parameter missing error
func ErrParamMissing(message string) *AppError {
	if message == "" {
		message = "parameter missing"
	}
	return NewAppError(http.StatusBadRequest, CodeParamMissing, message, nil)
}

// ErrParamInvalid creates a 400 parameter invalid error
func ErrParamInvalid(message string) *AppError {
	if message == "" {
		message = "parameter format error"
	}
	return NewAppError(http.StatusBadRequest, CodeParamInvalid, message, nil)
}

// ErrParamIllegal creates a 400 error for a well-formed but unacceptable value
func ErrParamIllegal(message string) *AppError {
	if message == "" {
		message = "parameter value illegal"
	}
	return NewAppError(http.StatusBadRequest, CodeParamIllegal, message, nil)
}

// Resource/Business error constructors

// ErrNotFound creates a 404 not found error
func ErrNotFound(message string) *AppError {
	if message == "" {
		message = "resource not found"
	}
	return NewAppError(http.StatusNotFound, CodeNotFound, message, nil)
}

// ErrAlreadyExists creates a 409 already exists error
func ErrAlreadyExists(message string) *AppError {
	if message == "" {
		message = "resource already exists"
	}
	return NewAppError(http.StatusConflict, CodeAlreadyExists, message, nil)
}

// System error constructors

// ErrInternalError creates a 500 internal error
func ErrInternalError(message string, err error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return NewAppError(http.StatusInternalServerError, CodeInternalError, message, err)
}

// ErrExternalError creates a 502 external dependency error
func ErrExternalError(message string, err error) *AppError {
	if message == "" {
		message = "external dependency failure"
	}
	return NewAppError(http.StatusBadGateway, CodeExternalError, message, err)
}

// ErrUnavailable creates a 503 error for a feature the site did not configure
func ErrUnavailable(message string) *AppError {
	if message == "" {
		message = "service unavailable"
	}
	return NewAppError(http.StatusServiceUnavailable, CodeUnavailable, message, nil)
}
