package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Config declares how the process logger is built.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Output is "stderr", "stdout" or a file path.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	// SampleInitial/SampleThereafter tune per-second message sampling.
	SampleInitial    int `json:"sampleInitial,omitempty" yaml:"sampleInitial,omitempty"`
	SampleThereafter int `json:"sampleThereafter,omitempty" yaml:"sampleThereafter,omitempty"`
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "", "json":
		format = "json"
	case "text", "console":
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log: open output: %w", err)
		}
		out = f
	}

	thereafter := cfg.SampleThereafter
	initial := cfg.SampleInitial
	if thereafter == 0 {
		initial, thereafter = 100, 100
	}
	return NewLogger(
		WithLevel(lvl),
		WithFormat(format),
		WithOutput(out),
		WithSampling(initial, thereafter),
	), nil
}

// RedirectStdLog routes the standard library logger into l at info level and
// returns a function restoring the previous behaviour.
func RedirectStdLog(l Logger) func() {
	zl, ok := l.(*zapLogger)
	if !ok {
		prev := stdlog.Writer()
		stdlog.SetOutput(io.Discard)
		return func() { stdlog.SetOutput(prev) }
	}
	return zap.RedirectStdLog(zl.z.WithOptions(zap.AddCallerSkip(-1)))
}
