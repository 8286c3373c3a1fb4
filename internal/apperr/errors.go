// Package apperr defines the error taxonomy shared by the sale and payment engines
// and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrConflict          = errors.New("conflict")
	ErrPersistence       = errors.New("persistence error")
	ErrUpstream          = errors.New("upstream error")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation builds a ValidationError with a formatted message.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

type InsufficientStockError struct {
	ProductID uint
	Product   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s: requested %s, available %s",
		e.Product, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InvalidAmountError struct {
	Message string
}

func (e *InvalidAmountError) Error() string { return e.Message }

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

func InvalidAmount(format string, args ...any) error {
	return &InvalidAmountError{Message: fmt.Sprintf(format, args...)}
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure. The underlying error is kept for
// logs but never shown to API callers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// UpstreamError is a failure of an external collaborator such as the QR generator.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

// HTTPStatus maps an error from the engines onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to API callers.
func PublicMessage(err error) string {
	switch HTTPStatus(err) {
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusBadGateway:
		var up *UpstreamError
		if errors.As(err, &up) {
			return fmt.Sprintf("%s is unavailable, please retry", up.Service)
		}
		return "Upstream service unavailable"
	default:
		return err.Error()
	}
}

// Classify returns err unchanged when it already belongs to the taxonomy and
// wraps anything else as a PersistenceError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrInsufficientStock, ErrInvalidAmount, ErrConflict, ErrPersistence, ErrUpstream} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return Persistence(op, err)
}
