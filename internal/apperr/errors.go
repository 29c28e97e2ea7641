// Package apperr defines the error taxonomy shared by the record stores and
// the transaction orchestrator. Every error that leaves a service is one of
// the four kinds below; HTTPStatus and Code translate them for the API layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/diewo77/go-ledger/internal/validation"
)

// Sentinels matched through errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrUnexpected        = errors.New("unexpected failure")
)

// ValidationError reports a malformed or inconsistent payload. It is always
// returned before any write happens.
type ValidationError struct {
	Field   string
	Message string
	Details validation.Violations
}

func (e *ValidationError) Error() string {
	if len(e.Details) > 1 || (len(e.Details) == 1 && e.Field == "") {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Details[k])
		}
		return "validation failed: " + strings.Join(parts, ", ")
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a single-field ValidationError.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Details: validation.Violations{field: message}}
}

// FromViolations returns nil when v is empty.
func FromViolations(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	e := &ValidationError{Details: v}
	if len(v) == 1 {
		for k, msg := range v {
			e.Field, e.Message = k, msg
		}
	}
	return e
}

// StockShortage is one line that cannot be served from current stock.
type StockShortage struct {
	ItemID    uint   `json:"item_id"`
	ItemName  string `json:"item_name"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// InsufficientStockError lists every offending line, not just the first.
type InsufficientStockError struct {
	Lines []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("item %d (%s) requested %d available %d", l.ItemID, l.ItemName, l.Requested, l.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// NotFoundError reports a missing Item, Account, Debt or transaction.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// UnexpectedError is a storage failure past validation. Applied is the list of
// writes that had succeeded when the failure happened; Compensation holds any
// error raised while undoing them.
type UnexpectedError struct {
	Op           string
	Err          error
	Applied      []string
	Compensation error
}

func (e *UnexpectedError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Compensation != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", e.Compensation)
	}
	return msg
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }

// Unexpected wraps err unless it already is an UnexpectedError.
func Unexpected(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnexpectedError
	if errors.As(err, &ue) {
		return err
	}
	return &UnexpectedError{Op: op, Err: err}
}

// IsDomain reports whether err belongs to the caller-facing kinds (validation,
// stock, not found) as opposed to a storage failure.
func IsDomain(err error) bool {
	if errors.Is(err, ErrUnexpected) {
		return false
	}
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrNotFound)
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnexpected):
		return http.StatusInternalServerError
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the snake_case error code used in API responses.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnexpected):
		return "internal_error"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}

// Details returns the structured payload attached to an error, if any.
func Details(err error) any {
	var ve *ValidationError
	if errors.As(err, &ve) && !errors.Is(err, ErrUnexpected) {
		return ve.Details
	}
	var se *InsufficientStockError
	if errors.As(err, &se) && !errors.Is(err, ErrUnexpected) {
		return se.Lines
	}
	var nf *NotFoundError
	if errors.As(err, &nf) && !errors.Is(err, ErrUnexpected) {
		return map[string]any{"entity": nf.Entity, "id": nf.ID}
	}
	return nil
}
