package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrors_AreDistinctAndUsableWithErrorsIs(t *testing.T) {
	all := []error{
		ErrInvalidRequestParameters, ErrInvalidMarkup, ErrRenderTimeout, ErrEngineCrash,
		ErrPoolExhausted, ErrPoolClosed, ErrUpload, ErrStorageNotConfigured, ErrMissingUpload,
		ErrInvalidAPIKey, ErrTokenStoreNotReady,
	}
	for i, a := range all {
		if a == nil || a.Error() == "" {
			t.Fatalf("error %d must be non-nil with a message", i)
		}
		for j, b := range all {
			if i != j && a == b {
				t.Fatalf("errors %d and %d must be distinct", i, j)
			}
		}
		wrapped := errors.Join(errors.New("context"), a)
		if !errors.Is(wrapped, a) {
			t.Fatalf("expected errors.Is to match %v", a)
		}
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: width", ErrInvalidRequestParameters), CodeInvalidRequestParameters},
		{fmt.Errorf("%w: load", ErrInvalidMarkup), CodeInvalidMarkup},
		{ErrRenderTimeout, CodeRenderTimeout},
		{ErrEngineCrash, CodeEngineCrash},
		{ErrPoolExhausted, CodePoolExhausted},
		{ErrPoolClosed, CodePoolExhausted},
		{fmt.Errorf("%w: %w", ErrUpload, ErrStorageNotConfigured), CodeUploadError},
		{ErrMissingUpload, CodeMissingUpload},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range tests {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
