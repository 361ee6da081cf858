package log

import (
	"io"
	"os"
	"strings"
)

// Format selects the wire format of emitted log lines.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "json"
}

// ParseFormat maps a config string onto a Format. "console" is accepted
// as an alias for text since that is what most log shippers call it.
// Unknown values default to JSON, the production format.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "console":
		return FormatText
	default:
		return FormatJSON
	}
}

// Output wraps the destination writer so callers cannot hand the
// logger a nil io.Writer by accident.
type Output struct {
	writer io.Writer
}

func (o Output) Writer() io.Writer {
	if o.writer == nil {
		return os.Stdout
	}
	return o.writer
}

// NewOutput creates an Output from an arbitrary writer. Tests use this
// to capture log lines in a buffer.
func NewOutput(w io.Writer) Output {
	return Output{writer: w}
}

func OutputStdout() Output {
	return Output{writer: os.Stdout}
}

func OutputStderr() Output {
	return Output{writer: os.Stderr}
}

// Config controls how the logger emits entries.
type Config struct {
	Level  Level
	Format Format
	Output Output

	// AddSource includes the file:line of the call site in each entry.
	AddSource bool

	// ServiceName and ServiceVersion are attached to every entry so
	// aggregated logs from multiple opsdesk deployments stay
	// attributable.
	ServiceName    string
	ServiceVersion string
}

// DefaultConfig is INFO-level JSON to stdout.
func DefaultConfig() Config {
	return Config{
		Level:       LevelInfo,
		Format:      FormatJSON,
		Output:      OutputStdout(),
		ServiceName: "opsdesk",
	}
}

// DevelopmentConfig is DEBUG-level text to stdout with call sites, for
// running the server locally.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = LevelDebug
	cfg.Format = FormatText
	cfg.AddSource = true
	return cfg
}
