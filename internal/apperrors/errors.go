package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error for callers and for the HTTP layer. The set is
// closed: handlers switch on Kind, never on message text.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindGateway
	KindSignature
	KindConcurrencyLimit
	KindFulfillmentDiscrepancy
	KindOrderCreation
	KindNoAccess
	KindExpired
	KindRevoked
	KindTerminated
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindGateway:
		return "gateway_error"
	case KindSignature:
		return "signature_error"
	case KindConcurrencyLimit:
		return "concurrency_limit"
	case KindFulfillmentDiscrepancy:
		return "fulfillment_discrepancy"
	case KindOrderCreation:
		return "order_creation_error"
	case KindNoAccess:
		return "no_access"
	case KindExpired:
		return "expired"
	case KindRevoked:
		return "revoked"
	case KindTerminated:
		return "terminated"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// StatusCode maps a kind to the HTTP status used by the API handlers.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGateway:
		return http.StatusBadGateway
	case KindSignature, KindExpired:
		return http.StatusUnauthorized
	case KindConcurrencyLimit:
		return http.StatusTooManyRequests
	case KindNoAccess, KindRevoked:
		return http.StatusForbidden
	case KindTerminated:
		return http.StatusGone
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error carried through the settlement core.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// New builds an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation builds a validation error with per-field detail.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: "invalid request", Fields: fields}
}

func NotFound(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Gateway(op string, err error, format string, args ...interface{}) *Error {
	return Wrap(KindGateway, op, err, format, args...)
}

func Signature(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindSignature, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldsOf returns the field detail of the first *Error in err's chain.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
