package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error represents an application error with HTTP status and error code.
//
// 4xx errors are business or validation outcomes and are never retried.
// 5xx errors are infrastructure failures; 503 ones are safe to retry.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches errors by code so copies made with WithMessage/WithInternal
// still satisfy errors.Is against the sentinel they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ToEchoError converts the app error to an echo.HTTPError
func (e *Error) ToEchoError() *echo.HTTPError {
	errBody := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errBody["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{
		"error": errBody,
	})
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
		Details:    e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Common error definitions
var (
	ErrForbidden = New(http.StatusForbidden, "forbidden", "Access denied")
	ErrNotFound  = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrConflict  = New(http.StatusConflict, "conflict", "Resource already exists")

	// Validation errors
	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "Invalid input data. Please check and try again.")
	ErrValidation = New(http.StatusUnprocessableEntity, "validation_error", "Validation failed")

	// Order and cart business rules
	ErrCartEmpty         = New(http.StatusNotFound, "cart_empty", "Your cart is empty. Add items to place order.")
	ErrInsufficientStock = New(http.StatusConflict, "insufficient_stock", "Not enough stock")
	ErrOrderNotFound     = New(http.StatusNotFound, "order_not_found", "Order not found.")
	ErrNoOrders          = New(http.StatusNotFound, "no_orders", "There are no active orders.")
	ErrOrderNotPayable   = New(http.StatusForbidden, "order_not_payable", "The order cannot be paid.")
	ErrOrderNotPaid      = New(http.StatusConflict, "order_not_paid", "The order has not been paid yet.")
	ErrInvalidTransition = New(http.StatusConflict, "invalid_transition", "The order cannot move to that status.")

	// Server errors
	ErrInternal = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase = New(http.StatusServiceUnavailable, "database_error", "Database operation failed")
	ErrQueue    = New(http.StatusServiceUnavailable, "queue_error", "Job queue operation failed")
)

// ToHTTPError converts an app error to an HTTP-friendly format
func ToHTTPError(err error) (int, map[string]any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		errBody := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			errBody["details"] = appErr.Details
		}
		return appErr.HTTPStatus, map[string]any{
			"error": errBody,
		}
	}

	return http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"code":    "internal_error",
			"message": "An internal error occurred",
		},
	}
}

// IsBusiness reports whether err is a 4xx application error: a rejection the
// caller caused, which must not be retried.
func IsBusiness(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500
}

// IsRetryable reports whether err is an infrastructure failure the caller may
// retry. Errors that are not application errors count as infrastructure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus == http.StatusServiceUnavailable
	}
	return true
}

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    message,
		Internal:   err,
	}
}

// NewInsufficientStock names the product that ran out.
func NewInsufficientStock(productName string) *Error {
	return ErrInsufficientStock.
		WithMessage(fmt.Sprintf("Not enough stock for %s", productName)).
		WithDetails(map[string]any{"product": productName})
}
