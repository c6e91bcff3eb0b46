package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestNewHubErrorCarriesCategoryAndStatus(t *testing.T) {
	err := NewHubError(ErrorInvalidSignature, "signature mismatch", map[string]any{"provider": "acme"})
	if err.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category, got %s", err.Category)
	}
	if err.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", err.Code)
	}
	if err.TextCode != ErrorInvalidSignature {
		t.Fatalf("expected text code, got %q", err.TextCode)
	}
	if err.Metadata["provider"] != "acme" {
		t.Fatalf("expected metadata to be attached, got %#v", err.Metadata)
	}
}

func TestErrorCodeAndRetryability(t *testing.T) {
	transient := WrapHubError(errors.New("503"), ErrorDownstreamTransient, "downstream unavailable", nil)
	if !IsRetryable(transient) {
		t.Fatalf("expected transient downstream error to be retryable")
	}
	wrapped := fmt.Errorf("forward: %w", transient)
	if ErrorCode(wrapped) != ErrorDownstreamTransient {
		t.Fatalf("expected wrapped code to survive, got %q", ErrorCode(wrapped))
	}

	for _, code := range []string{
		ErrorInvalidSignature,
		ErrorUnsupportedProvider,
		ErrorParse,
		ErrorValidation,
		ErrorBusinessRule,
		ErrorUnresolvedBranch,
		ErrorDownstreamRejected,
	} {
		if IsRetryable(NewHubError(code, "x", nil)) {
			t.Fatalf("expected %s to be terminal", code)
		}
	}
}

func TestMapErrorSentinels(t *testing.T) {
	cases := map[error]string{
		ErrEventNotFound:             ErrorNotFound,
		ErrMappingNotFound:           ErrorNotFound,
		ErrStaleEventTransition:      ErrorConflict,
		context.DeadlineExceeded:     ErrorDownstreamTransient,
		errors.New("rate limit hit"): ErrorRateLimited,
	}
	for input, want := range cases {
		mapped := MapError(input)
		if mapped == nil || mapped.TextCode != want {
			t.Fatalf("expected %q for %v, got %#v", want, input, mapped)
		}
	}
	if MapError(nil) != nil {
		t.Fatalf("expected nil mapping for nil error")
	}
}

func TestRestoreErrorCode(t *testing.T) {
	validation := goerrors.Wrap(InvalidField("event_id", "event id is required"), goerrors.CategoryValidation, "message validation failed").
		WithTextCode("VALIDATION_FAILED")
	if got := ErrorCode(RestoreErrorCode(validation)); got != ErrorBadInput {
		t.Fatalf("expected BAD_INPUT for validation failure, got %s", got)
	}

	conflict := goerrors.Wrap(NewHubError(ErrorConflict, "event is COMPLETED", nil), goerrors.CategoryHandler, "handler failed").
		WithTextCode("HANDLER_EXECUTION_FAILED")
	restored := RestoreErrorCode(conflict)
	if got := ErrorCode(restored); got != ErrorConflict {
		t.Fatalf("expected CONFLICT from wrapped hub error, got %s", got)
	}
	var rich *goerrors.Error
	if !goerrors.As(restored, &rich) || rich.Code != http.StatusConflict {
		t.Fatalf("expected 409 envelope, got %+v", restored)
	}

	plain := goerrors.Wrap(fmt.Errorf("load: %w", ErrEventNotFound), goerrors.CategoryInternal, "handler failed after 1 attempts").
		WithTextCode("HANDLER_MAX_RETRIES_EXCEEDED")
	if got := ErrorCode(RestoreErrorCode(errors.Join(plain))); got != ErrorNotFound {
		t.Fatalf("expected NOT_FOUND from plain source, got %s", got)
	}

	hub := NewHubError(ErrorNotFound, "missing", nil)
	if RestoreErrorCode(hub) != error(hub) {
		t.Fatalf("expected hub errors to pass through unchanged")
	}
	if RestoreErrorCode(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}
