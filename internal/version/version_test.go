package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.2.3",
		Commit:    "0123456789abcdef",
		Date:      "2026-09-01",
		GoVersion: "go1.24.6",
		Platform:  "linux/amd64",
	}

	s := info.String()
	assert.Contains(t, s, "Opsdesk 1.2.3")
	assert.Contains(t, s, "(01234567)") // commit shortened to 8 chars
	assert.Contains(t, s, "linux/amd64")

	assert.Equal(t, "1.2.3", info.Short())
}

func TestGetInfoFillsRuntime(t *testing.T) {
	info := GetInfo()
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
