// Package exitcode defines the process exit codes of the opsdesk CLI
// and maps errors onto them.
package exitcode

import (
	"os"
	"strings"

	"github.com/opsdesk/opsdesk/internal/errors"
)

const (
	Success = 0

	// GeneralError covers failures that fit no more specific code.
	GeneralError = 1

	// UsageError means the command line itself was wrong.
	UsageError = 2

	// ConfigError means the configuration was missing or invalid.
	ConfigError = 3

	// AuthError means sign-in or session validation failed.
	AuthError = 4

	// TenantError means a tenant directory or tenant switch failure.
	TenantError = 5

	// NetworkError means a connectivity failure talking to a backend.
	NetworkError = 6
)

// Exit terminates the process with the given code.
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError terminates the process with the code derived from err.
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error onto an exit code. Coded errors map
// by their code family; everything else falls back to message
// heuristics so wrapped transport and cobra errors still land in a
// useful bucket.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if code := errors.CodeOf(err); code != "" {
		switch {
		case strings.HasPrefix(string(code), "AUTH-"):
			return AuthError
		case strings.HasPrefix(string(code), "TENANT-"):
			return TenantError
		case strings.HasPrefix(string(code), "CONFIG-"):
			return ConfigError
		default:
			return GeneralError
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "configuration", "config file"):
		return ConfigError
	case containsAny(msg, "tenant context", "tenant"):
		return TenantError
	case containsAny(msg, "unauthorized", "credentials", "token"):
		return AuthError
	case containsAny(msg, "connection", "network", "timeout", "unreachable"):
		return NetworkError
	case containsAny(msg, "unknown command", "invalid flag", "required flag", "missing argument"):
		return UsageError
	default:
		return GeneralError
	}
}

// GetExitCodeDescription returns a human-readable description of an
// exit code, for help text.
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ConfigError:
		return "Configuration error"
	case AuthError:
		return "Authentication error"
	case TenantError:
		return "Tenant context error"
	case NetworkError:
		return "Network error"
	default:
		return "Unknown error"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
