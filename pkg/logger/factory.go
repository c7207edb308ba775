package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type Option func(*options)

type options struct {
	level      slog.Level
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

func WithLevel(l slog.Level) Option {
	return func(o *options) { o.level = l }
}

// WithFormat panics on an unknown format so a misconfigured binary fails at
// startup rather than logging nowhere.
func WithFormat(f Format) Option {
	if f != FormatJSON && f != FormatText {
		panic(fmt.Errorf("logger: invalid format %q", f))
	}
	return func(o *options) { o.format = f }
}

func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithContextExtractors registers extractors run on every record handled
// with a context, e.g. the API's request id.
func WithContextExtractors(ex ...ContextExtractor) Option {
	return func(o *options) { o.extractors = append(o.extractors, ex...) }
}

// WithEnvironment picks defaults per deployment: debug-level text in
// development, info-level JSON in staging and production. It also stamps
// every record with service and env.
func WithEnvironment(env, service string) Option {
	return func(o *options) {
		switch env {
		case "production", "prod":
			env, o.level, o.format = "production", slog.LevelInfo, FormatJSON
		case "staging", "stage":
			env, o.level, o.format = "staging", slog.LevelInfo, FormatJSON
		default:
			env, o.level, o.format = "development", slog.LevelDebug, FormatText
		}
		if service != "" {
			o.attrs = append(o.attrs, slog.String("service", service))
		}
		o.attrs = append(o.attrs, slog.String("env", env))
	}
}

// New builds a logger; without options it writes info-level JSON to stdout.
func New(opts ...Option) *slog.Logger {
	o := &options{level: slog.LevelInfo, format: FormatJSON, output: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	ho := &slog.HandlerOptions{Level: o.level}
	var h slog.Handler = slog.NewJSONHandler(o.output, ho)
	if o.format == FormatText {
		h = slog.NewTextHandler(o.output, ho)
	}
	if len(o.attrs) > 0 {
		h = h.WithAttrs(o.attrs)
	}
	return slog.New(withExtractors(h, o.extractors))
}

func SetAsDefault(l *slog.Logger) { slog.SetDefault(l) }

// Discard returns a logger that drops every record. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
