// Package fhirerr defines the error taxonomy shared by the services, the
// authorization core and both transports.
package fhirerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independently of its message.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInvalidResourceType
	KindMissingRequiredField
	KindInvalidReference
	KindSerialization
	KindDatabase
	KindConflict
	KindPreconditionFailed
	KindUnprocessableEntity
	KindForbidden
	KindUnauthenticated
)

var kindNames = map[Kind]string{
	KindUnknown:              "INTERNAL_ERROR",
	KindValidation:           "VALIDATION_ERROR",
	KindNotFound:             "NOT_FOUND",
	KindInvalidResourceType:  "INVALID_RESOURCE_TYPE",
	KindMissingRequiredField: "MISSING_REQUIRED_FIELD",
	KindInvalidReference:     "INVALID_REFERENCE",
	KindSerialization:        "SERIALIZATION_ERROR",
	KindDatabase:             "DATABASE_ERROR",
	KindConflict:             "CONFLICT",
	KindPreconditionFailed:   "PRECONDITION_FAILED",
	KindUnprocessableEntity:  "UNPROCESSABLE_ENTITY",
	KindForbidden:            "FORBIDDEN",
	KindUnauthenticated:      "UNAUTHENTICATED",
}

var kindPrefixes = map[Kind]string{
	KindValidation:           "Validation error",
	KindInvalidResourceType:  "Invalid resource type",
	KindMissingRequiredField: "Missing required field",
	KindInvalidReference:     "Invalid reference",
	KindSerialization:        "Serialization error",
	KindDatabase:             "Database error",
	KindConflict:             "Conflict",
	KindPreconditionFailed:   "Precondition failed",
	KindUnprocessableEntity:  "Unprocessable entity",
	KindForbidden:            "Forbidden",
	KindUnauthenticated:      "Unauthenticated",
}

// Code returns the machine readable code used in error response bodies.
func (k Kind) Code() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// Error is the concrete error type for every domain failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindNotFound {
		return "Resource not found: " + e.Message
	}
	prefix, ok := kindPrefixes[e.Kind]
	if !ok {
		return e.Message
	}
	return prefix + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the package-level sentinels
// work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidResourceType  = &Error{Kind: KindInvalidResourceType}
	ErrMissingRequiredField = &Error{Kind: KindMissingRequiredField}
	ErrInvalidReference     = &Error{Kind: KindInvalidReference}
	ErrSerialization        = &Error{Kind: KindSerialization}
	ErrDatabase             = &Error{Kind: KindDatabase}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrPreconditionFailed   = &Error{Kind: KindPreconditionFailed}
	ErrUnprocessableEntity  = &Error{Kind: KindUnprocessableEntity}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
)

// KindOf reports the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

// NotFound reports a missing resource as "Type/id".
func NotFound(resourceType, id string) *Error {
	return &Error{Kind: KindNotFound, Message: resourceType + "/" + id}
}

func InvalidResourceType(format string, args ...any) *Error {
	return newf(KindInvalidResourceType, format, args...)
}

func MissingRequiredField(field string) *Error {
	return &Error{Kind: KindMissingRequiredField, Message: field}
}

func InvalidReference(format string, args ...any) *Error {
	return newf(KindInvalidReference, format, args...)
}

func Serialization(err error) *Error {
	return &Error{Kind: KindSerialization, Message: err.Error(), Err: err}
}

func Database(err error) *Error {
	return &Error{Kind: KindDatabase, Message: err.Error(), Err: err}
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func PreconditionFailed(format string, args ...any) *Error {
	return newf(KindPreconditionFailed, format, args...)
}

func UnprocessableEntity(format string, args ...any) *Error {
	return newf(KindUnprocessableEntity, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return newf(KindUnauthenticated, format, args...)
}
