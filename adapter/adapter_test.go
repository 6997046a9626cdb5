package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	tests := []struct {
		name         string
		retries      int
		failures     []error // returned by successive attempts; nil afterwards
		wantErr      string
		wantAttempts int
	}{
		{"first try", 2, nil, "", 1},
		{"recovers", 2, []error{errTransient}, "", 2},
		{"exhausted", 1, []error{errTransient, errTransient, errTransient}, "failed after 2 attempts", 2},
		{"permanent", 3, []error{errFatal}, "non-retriable", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(t.Context(), tt.retries, func(context.Context) error {
				attempts++
				if attempts <= len(tt.failures) {
					return tt.failures[attempts-1]
				}
				return nil
			}, func(err error) bool { return errors.Is(err, errFatal) })

			if tt.wantErr == "" && err != nil {
				t.Fatalf("Retry failed: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("Retry error = %v, want mention of %q", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	err := Retry(ctx, 3, func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err == nil {
		t.Fatal("Retry succeeded, want error on canceled context")
	}
	if called {
		t.Error("attempt ran on a canceled context")
	}
}
