package exitcode

import (
	"fmt"
	"testing"

	"github.com/opsdesk/opsdesk/internal/errors"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"plain error", fmt.Errorf("something broke"), GeneralError},
		{"invalid credentials", errors.NewInvalidCredentialsError(), AuthError},
		{"tenant mismatch", errors.NewTenantContextNotUpdatedError("t2", "t1"), TenantError},
		{"config error", errors.New(errors.ErrCodeConfigInvalid, "signing key missing"), ConfigError},
		{"network error", fmt.Errorf("connection refused"), NetworkError},
		{"timeout", fmt.Errorf("request timeout"), NetworkError},
		{"usage error", fmt.Errorf("unknown command \"tennat\""), UsageError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.want {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	known := []int{Success, GeneralError, UsageError, ConfigError, AuthError, TenantError, NetworkError}
	for _, code := range known {
		if GetExitCodeDescription(code) == "Unknown error" {
			t.Errorf("code %d should have a description", code)
		}
	}

	if GetExitCodeDescription(99) != "Unknown error" {
		t.Errorf("unknown codes should return 'Unknown error'")
	}
}
