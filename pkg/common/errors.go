package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrInternalServer     = errors.New("internal server error")
	ErrConflict           = errors.New("resource conflict")
	ErrValidation         = errors.New("validation error")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ErrorCode constants for machine-readable error identification.
const (
	// Auth errors
	ErrCodeUnauthorized       = "AUTH_UNAUTHORIZED"
	ErrCodeForbidden          = "AUTH_FORBIDDEN"
	ErrCodeInvalidToken       = "AUTH_INVALID_TOKEN"
	ErrCodeExpiredToken       = "AUTH_EXPIRED_TOKEN"
	ErrCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"

	// Validation errors
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeBadRequest = "BAD_REQUEST"

	// Resource errors
	ErrCodeNotFound = "RESOURCE_NOT_FOUND"
	ErrCodeConflict = "RESOURCE_CONFLICT"

	// System errors
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMITED"

	// Driver location domain errors
	ErrCodeUnserviceable                = "UNSERVICEABLE"
	ErrCodeHitsLimitExceeded            = "HITS_LIMIT_EXCEEDED"
	ErrCodeUnderProcessing              = "UNDER_PROCESSING"
	ErrCodeLargePayloadSize             = "LARGE_PAYLOAD_SIZE"
	ErrCodeDriverAppAuthFailed          = "DRIVER_APP_AUTH_FAILED"
	ErrCodeExternalAPICallError         = "EXTERNAL_API_CALL_ERROR"
	ErrCodeRequestTimeout               = "REQUEST_TIMEOUT"
	ErrCodeDriverBulkLocationUpdateFail = "DRIVER_BULK_LOCATION_UPDATE_FAILED"
	ErrCodeKafkaPushFailed              = "KAFKA_PUSH_FAILED"
	ErrCodeDrainerPushFailed            = "DRAINER_PUSH_FAILED"
	ErrCodeSerialization                = "SERIALIZATION_ERROR"
	ErrCodeInvalidGPSData               = "INVALID_GPS_DATA"
	ErrCodeMissingApiKey                = "MISSING_API_KEY"
	ErrCodeInvalidApiKey                = "INVALID_API_KEY"
	ErrCodeVehicleNotInActiveTrip       = "VEHICLE_NOT_IN_ACTIVE_TRIP"
	ErrCodeDriverBlocked                = "DRIVER_BLOCKED"
	ErrCodePanicOccured                 = "PANIC_OCCURED"
)

// AppError represents an application error with HTTP status code and error code.
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NewNotFoundError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusNotFound,
		ErrorCode: ErrCodeNotFound,
		Message:   message,
		Err:       err,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:      http.StatusUnauthorized,
		ErrorCode: ErrCodeUnauthorized,
		Message:   message,
		Err:       ErrUnauthorized,
	}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: ErrCodeBadRequest,
		Message:   message,
		Err:       err,
	}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeInternal,
		Message:   message,
		Err:       err,
	}
}

func NewInternalErrorWithError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeInternal,
		Message:   message,
		Err:       err,
	}
}

func NewInternalServerError(message string) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeInternal,
		Message:   message,
		Err:       ErrInternalServer,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: ErrCodeConflict,
		Message:   message,
		Err:       ErrConflict,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: ErrCodeValidation,
		Message:   message,
		Err:       ErrValidation,
	}
}

func NewServiceUnavailableError(message string) *AppError {
	return &AppError{
		Code:      http.StatusServiceUnavailable,
		ErrorCode: ErrCodeServiceUnavailable,
		Message:   message,
		Err:       errors.New("service unavailable"),
	}
}

func NewTooManyRequestsError(message string) *AppError {
	return &AppError{
		Code:      http.StatusTooManyRequests,
		ErrorCode: ErrCodeRateLimited,
		Message:   message,
		Err:       errors.New("rate limit exceeded"),
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:      http.StatusForbidden,
		ErrorCode: ErrCodeForbidden,
		Message:   message,
		Err:       ErrForbidden,
	}
}

// NewErrorWithCode creates an AppError with a custom error code.
func NewErrorWithCode(httpCode int, errorCode, message string, err error) *AppError {
	return &AppError{
		Code:      httpCode,
		ErrorCode: errorCode,
		Message:   message,
		Err:       err,
	}
}

// NewUnserviceableError reports that no geofence region contains the point.
func NewUnserviceableError(lat, lon float64) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: ErrCodeUnserviceable,
		Message:   "location is not serviceable",
		Err:       fmt.Errorf("unserviceable point (%.6f, %.6f)", lat, lon),
	}
}

// NewHitsLimitExceededError reports a sliding-window rate-limit rejection.
func NewHitsLimitExceededError(key string) *AppError {
	return &AppError{
		Code:      http.StatusTooManyRequests,
		ErrorCode: ErrCodeHitsLimitExceeded,
		Message:   "rate limit exceeded",
		Err:       fmt.Errorf("hits limit exceeded for %s", key),
	}
}

// NewUnderProcessingError reports that the driver's processing lock is held.
func NewUnderProcessingError(driverID string) *AppError {
	return &AppError{
		Code:      http.StatusTooManyRequests,
		ErrorCode: ErrCodeUnderProcessing,
		Message:   "another update is already being processed for this driver",
		Err:       fmt.Errorf("driver %s is under processing", driverID),
	}
}

// NewLargePayloadError reports a request body exceeding the configured cap.
func NewLargePayloadError(message string) *AppError {
	return &AppError{
		Code:      http.StatusRequestEntityTooLarge,
		ErrorCode: ErrCodeLargePayloadSize,
		Message:   message,
		Err:       errors.New("payload too large"),
	}
}

// NewDriverAppAuthFailedError reports a failed auth-token lookup/validation.
func NewDriverAppAuthFailedError(err error) *AppError {
	return &AppError{
		Code:      http.StatusUnauthorized,
		ErrorCode: ErrCodeDriverAppAuthFailed,
		Message:   "driver app authentication failed",
		Err:       err,
	}
}

// NewExternalAPICallError wraps a failed outbound HTTP call.
func NewExternalAPICallError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeExternalAPICallError,
		Message:   message,
		Err:       err,
	}
}

// NewRequestTimeoutError reports an outbound call exceeding its deadline.
func NewRequestTimeoutError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusRequestTimeout,
		ErrorCode: ErrCodeRequestTimeout,
		Message:   message,
		Err:       err,
	}
}

// NewDriverBulkLocationUpdateFailedError reports a failed bulk callback POST.
func NewDriverBulkLocationUpdateFailedError(err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeDriverBulkLocationUpdateFail,
		Message:   "failed to flush trajectory to bulk callback",
		Err:       err,
	}
}

// NewKafkaPushFailedError reports a failed best-effort Kafka publish.
func NewKafkaPushFailedError(err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeKafkaPushFailed,
		Message:   "failed to push location update to kafka",
		Err:       err,
	}
}

// NewDrainerPushFailedError reports a failed enqueue to the batching drainer.
func NewDrainerPushFailedError(err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeDrainerPushFailed,
		Message:   "failed to enqueue location update to drainer",
		Err:       err,
	}
}

// NewSerializationError wraps a codec (marshal/unmarshal) failure.
func NewSerializationError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeSerialization,
		Message:   message,
		Err:       err,
	}
}

// NewInvalidGPSDataError reports a malformed external-GPS payload.
func NewInvalidGPSDataError(message string) *AppError {
	return &AppError{
		Code:      http.StatusUnprocessableEntity,
		ErrorCode: ErrCodeInvalidGPSData,
		Message:   message,
		Err:       errors.New("invalid gps data"),
	}
}

// NewMissingApiKeyError reports a missing X-API-Key header.
func NewMissingApiKeyError() *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: ErrCodeMissingApiKey,
		Message:   "X-API-Key header is required",
		Err:       errors.New("missing api key"),
	}
}

// NewInvalidApiKeyError reports an API key that does not match the configured value.
func NewInvalidApiKeyError() *AppError {
	return &AppError{
		Code:      http.StatusUnauthorized,
		ErrorCode: ErrCodeInvalidApiKey,
		Message:   "invalid API key",
		Err:       errors.New("invalid api key"),
	}
}

// NewVehicleNotInActiveTripError reports a plate→driver cache miss.
func NewVehicleNotInActiveTripError(plate string) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodeVehicleNotInActiveTrip,
		Message:   "vehicle is not in an active trip",
		Err:       fmt.Errorf("no active trip cached for plate %s", plate),
	}
}

// NewDriverBlockedError reports that policy has blocked the driver.
func NewDriverBlockedError(driverID string) *AppError {
	return &AppError{
		Code:      http.StatusForbidden,
		ErrorCode: ErrCodeDriverBlocked,
		Message:   "driver is blocked",
		Err:       fmt.Errorf("driver %s is blocked", driverID),
	}
}

// NewPanicOccuredError converts a recovered panic into an AppError.
func NewPanicOccuredError(recovered interface{}) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: ErrCodePanicOccured,
		Message:   "internal panic recovered",
		Err:       fmt.Errorf("panic: %v", recovered),
	}
}
