package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an Error by who can fix it.
type ErrorKind string

// Error kinds.
const (
	KindNotFound           ErrorKind = "not_found"
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindValidation         ErrorKind = "validation"
	KindConflict           ErrorKind = "conflict"
	KindInternal           ErrorKind = "internal"
)

// Sentinel errors, one per kind. errors.Is(err, ErrNotFound) reports
// whether err is an *Error of kind KindNotFound.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal error")
)

// Stable machine-readable error codes.
const (
	CodeInvalidKey      = "INVALID_KEY"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidEvent    = "INVALID_EVENT"
	CodeInvalidSnapshot = "INVALID_SNAPSHOT"

	CodeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	CodePolicyNotFound   = "POLICY_NOT_FOUND"
	CodeBindingNotFound  = "BINDING_NOT_FOUND"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"

	CodeETagMismatch = "ETAG_MISMATCH"
	CodeETagRequired = "ETAG_REQUIRED"

	CodeInvalidPatchOp         = "INVALID_PATCH_OP"
	CodeInvalidPatchPath       = "INVALID_PATCH_PATH"
	CodeInvalidPatchText       = "INVALID_PATCH_TEXT"
	CodeInvalidPatchNoMatch    = "INVALID_PATCH_NO_MATCH"
	CodeInvalidPatchAmbiguous  = "INVALID_PATCH_AMBIGUOUS_MATCH"
	CodeInvalidPatchOccurrence = "INVALID_PATCH_OCCURRENCE"
	CodeInvalidPatchMixed      = "INVALID_PATCH_MIXED"
	CodeInvalidPatchEmpty      = "INVALID_PATCH_EMPTY"

	CodePathNotWritable      = "PATH_NOT_WRITABLE"
	CodeBindingMismatch      = "BINDING_MISMATCH"
	CodeSchemaMismatch       = "SCHEMA_MISMATCH"
	CodeDocumentSizeExceeded = "DOCUMENT_SIZE_EXCEEDED"
	CodeContentSizeExceeded  = "CONTENT_SIZE_EXCEEDED"
	CodeRequiredPathMissing  = "REQUIRED_PATH_MISSING"
	CodeArrayLimitExceeded   = "ARRAY_LIMIT_EXCEEDED"
	CodeReplaceNotAllowed    = "REPLACE_NOT_ALLOWED"
	CodePatchNotAllowed      = "PATCH_NOT_ALLOWED"

	CodeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"

	CodeInternal           = "INTERNAL_ERROR"
	CodeStorage            = "STORAGE_ERROR"
	CodeCorruptState       = "CORRUPT_STATE"
	CodeSerialization      = "SERIALIZATION_ERROR"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeAuditWriteFailed   = "AUDIT_WRITE_FAILED"
)

// Error is the typed error returned by every core operation. It carries a
// kind, a stable code, a human message and optional structured details
// (for example latest_etag on a version conflict).
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrPreconditionFailed:
		return e.Kind == KindPreconditionFailed
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Detail returns the detail stored under key, or nil.
func (e *Error) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

func newError(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

// Precondition builds a KindPreconditionFailed error.
func Precondition(code, format string, args ...any) *Error {
	return newError(KindPreconditionFailed, code, format, args...)
}

// Invalid builds a KindValidation error.
func Invalid(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

// Conflict builds a KindConflict error.
func Conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

// Internal wraps cause as a KindInternal error.
func Internal(code, message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: code, Message: message, Err: cause}
}

// AsError extracts the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for errors that did not
// originate in the core.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}
