package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"network code", NewAppError(NewCLIError(ErrCodeNetworkError, "reset").Build()), true},
		{"rate limited", NewAppError(NewCLIError(ErrCodeRateLimited, "slow down").Build()), true},
		{"checksum", NewAppError(NewCLIError(ErrCodeChecksumMismatch, "md5").Build()), true},
		{"flagged", NewAppError(NewCLIError(ErrCodeUnknown, "odd").WithRetryable(true).Build()), true},
		{"not found", NewAppError(NewCLIError(ErrCodeFileNotFound, "gone").Build()), false},
		{"auth", NewAppError(NewCLIError(ErrCodeAuthExpired, "expired").Build()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, ErrCodeCancelled},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{NewFilesystemError("write", "/x", errors.New("disk full")), ErrCodeFilesystem},
		{errors.New("boom"), ErrCodeUnknown},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
