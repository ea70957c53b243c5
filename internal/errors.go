package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnavailable  ErrorType = "UNAVAILABLE"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"

	ErrCodePixDisabled     ErrorCode = "PIX_DISABLED"
	ErrCodeCardDisabled    ErrorCode = "CARD_DISABLED"
	ErrCodeCashDisabled    ErrorCode = "CASH_DISABLED"
	ErrCodeVoucherDisabled ErrorCode = "VOUCHER_DISABLED"

	ErrCodeAPICommunication ErrorCode = "API_COMMUNICATION_ERROR"

	ErrCodePixProcessing     ErrorCode = "PIX_PROCESSING_ERROR"
	ErrCodeCardProcessing    ErrorCode = "CARD_PROCESSING_ERROR"
	ErrCodeCashProcessing    ErrorCode = "CASH_PROCESSING_ERROR"
	ErrCodeVoucherProcessing ErrorCode = "VOUCHER_PROCESSING_ERROR"
	ErrCodeCardDeclined      ErrorCode = "CARD_DECLINED"
	ErrCodeInsufficientCash  ErrorCode = "INSUFFICIENT_CASH"

	ErrCodeTransactionNotFound    ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeTransactionConflict    ErrorCode = "TRANSACTION_CONFLICT"

	ErrCodeCheckoutNotFound     ErrorCode = "CHECKOUT_NOT_FOUND"
	ErrCodeInvalidCheckoutStage ErrorCode = "INVALID_CHECKOUT_STAGE"

	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired      ErrorCode = "TOKEN_EXPIRED"
	ErrCodeMissingPermission ErrorCode = "MISSING_PERMISSION"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {

			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// Is matches on Code so sentinel errors work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

// NewProcessingError is the generic per-method failure (PIX_PROCESSING_ERROR etc).
func NewProcessingError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewMethodDisabledError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewExternalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

var (
	ErrTransactionNotFound    = NewNotFoundError("Transaction not found", ErrCodeTransactionNotFound)
	ErrInvalidStateTransition = NewConflictError("Transaction cannot transition from its current status", ErrCodeInvalidStateTransition)
	ErrTransactionConflict    = NewConflictError("Transaction was modified concurrently", ErrCodeTransactionConflict)
	ErrAPICommunication       = NewExternalError("Failed to communicate with the payment gateway", ErrCodeAPICommunication)

	ErrCheckoutNotFound     = NewNotFoundError("Checkout not found", ErrCodeCheckoutNotFound)
	ErrInvalidCheckoutStage = NewConflictError("Checkout is not in a stage that allows this action", ErrCodeInvalidCheckoutStage)

	ErrInvalidToken      = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired      = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrMissingPermission = NewForbiddenError("Operator lacks the required permission", ErrCodeMissingPermission)
)

// Clone returns a copy so shared sentinels are never mutated by WithCause/WithDetails.
func (e *AppError) Clone() *AppError {
	c := *e
	return &c
}

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

// UnmarshalJSON lets clients of the envelope decode errors back.
func (e *AppError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    ErrorType       `json:"type"`
		Code    ErrorCode       `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = raw.Type
	e.Code = raw.Code
	e.Message = raw.Message
	if len(raw.Details) > 0 {
		var details ValidationErrors
		if err := json.Unmarshal(raw.Details, &details); err == nil && len(details.Errors) > 0 {
			e.Details = details
		}
	}
	return nil
}
