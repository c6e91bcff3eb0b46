package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidSignature    = "INVALID_SIGNATURE"
	ErrorUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrorParse               = "PARSE_ERROR"
	ErrorValidation          = "VALIDATION_ERROR"
	ErrorBusinessRule        = "BUSINESS_RULE_ERROR"
	ErrorUnresolvedBranch    = "UNRESOLVED_BRANCH"
	ErrorDownstreamTransient = "DOWNSTREAM_TRANSIENT"
	ErrorDownstreamRejected  = "DOWNSTREAM_REJECTED"

	ErrorRateLimited = "RATE_LIMITED"
	ErrorBadInput    = "BAD_INPUT"
	ErrorNotFound    = "NOT_FOUND"
	ErrorConflict    = "CONFLICT"
	ErrorInternal    = "INTERNAL_ERROR"
)

var errorCategories = map[string]goerrors.Category{
	ErrorInvalidSignature:    goerrors.CategoryAuth,
	ErrorUnsupportedProvider: goerrors.CategoryBadInput,
	ErrorParse:               goerrors.CategoryBadInput,
	ErrorValidation:          goerrors.CategoryValidation,
	ErrorBusinessRule:        goerrors.CategoryValidation,
	ErrorUnresolvedBranch:    goerrors.CategoryNotFound,
	ErrorDownstreamTransient: goerrors.CategoryExternal,
	ErrorDownstreamRejected:  goerrors.CategoryExternal,
	ErrorRateLimited:         goerrors.CategoryRateLimit,
	ErrorBadInput:            goerrors.CategoryBadInput,
	ErrorNotFound:            goerrors.CategoryNotFound,
	ErrorConflict:            goerrors.CategoryConflict,
	ErrorInternal:            goerrors.CategoryInternal,
}

// NewHubError builds an envelope for one of the hub text codes.
func NewHubError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	category, ok := errorCategories[textCode]
	if !ok {
		category = goerrors.CategoryInternal
	}
	err := goerrors.New(message, category).
		WithCode(HTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// WrapHubError wraps source with one of the hub text codes.
func WrapHubError(source error, textCode string, message string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewHubError(textCode, message, metadata)
	}
	category, ok := errorCategories[textCode]
	if !ok {
		category = goerrors.CategoryInternal
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(HTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the hub text code carried by err, or ErrorInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.TextCode) != "" {
		return rich.TextCode
	}
	return MapError(err).TextCode
}

// IsRetryable reports whether err should drive the event into RETRYING.
func IsRetryable(err error) bool {
	return ErrorCode(err) == ErrorDownstreamTransient
}

// MapError normalizes any error into a hub envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}

	switch {
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrMappingNotFound), errors.Is(err, ErrIdempotencyKeyNotFound):
		return NewHubError(ErrorNotFound, err.Error(), nil)
	case errors.Is(err, ErrStaleEventTransition), errors.Is(err, ErrInvalidEventStatusTransition):
		return NewHubError(ErrorConflict, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return NewHubError(ErrorDownstreamTransient, err.Error(), nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "unsupported provider"):
		return NewHubError(ErrorUnsupportedProvider, err.Error(), nil)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return NewHubError(ErrorRateLimited, err.Error(), nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewHubError(ErrorBadInput, err.Error(), nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorBadInput
	case goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryAuth:
		return ErrorInvalidSignature
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorDownstreamTransient
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// InvalidField reports one rejected field of an operator message.
func InvalidField(field string, message string) *goerrors.Error {
	return goerrors.NewValidation(message, goerrors.FieldError{Field: field, Message: message}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// MissingDependency reports a handler invoked without its collaborator.
func MissingDependency(name string) *goerrors.Error {
	return NewHubError(ErrorInternal, name+" is not configured", nil)
}

// KnownErrorCode reports whether code is one of the hub text codes.
func KnownErrorCode(code string) bool {
	_, ok := errorCategories[code]
	return ok
}

// RestoreErrorCode re-derives a hub text code for errors coming back from
// layers that overwrite text codes while keeping the category, such as the
// go-command dispatcher. Validation failures map to BAD_INPUT.
func RestoreErrorCode(err error) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || KnownErrorCode(rich.TextCode) {
		return err
	}
	switch rich.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		out := rich.Clone()
		out.Code = http.StatusBadRequest
		out.TextCode = ErrorBadInput
		return out
	case goerrors.CategoryInternal, goerrors.CategoryHandler, goerrors.CategoryCommand:
		if rich.Source != nil {
			return MapError(rich.Source)
		}
	}
	out := rich.Clone()
	out.Code = HTTPStatus(out.Category)
	out.TextCode = defaultTextCode(out.Category)
	return out
}
