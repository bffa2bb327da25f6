package errors

import (
	"fmt"
	"log/slog"
	"maps"
)

// Record is the normalized form of anything handed to the Manager.
type Record struct {
	Message  string
	Level    Level
	Category Category
	Context  map[string]any
	Cause    error

	// FormatFailure is set when normalization itself failed and the record
	// was built from the raw value only.
	FormatFailure error
}

// Key returns the occurrence-count key category:level:message.
func (r Record) Key() string {
	return string(r.Category) + ":" + r.Level.String() + ":" + r.Message
}

func (r Record) attrs() []any {
	attrs := []any{
		slog.String("category", string(r.Category)),
		slog.String("level", r.Level.String()),
	}

	if r.Cause != nil {
		attrs = append(attrs, slog.String("cause", fmt.Sprint(r.Cause)))
	}

	if r.FormatFailure != nil {
		attrs = append(attrs, slog.String("format_failure", r.FormatFailure.Error()))
	}

	if len(r.Context) > 0 {
		attrs = append(attrs, slog.Any("context", r.Context))
	}

	return attrs
}

// Options are the caller-supplied overrides for classification.
type Options struct {
	Level      Level
	Category   Category
	Context    map[string]any
	Resolution string
	Cause      error
}

// Option mutates Options.
type Option func(*Options)

// WithLevel forces the record level.
func WithLevel(l Level) Option {
	return func(o *Options) { o.Level = l }
}

// WithCategory forces the record category.
func WithCategory(c Category) Option {
	return func(o *Options) { o.Category = c }
}

// WithContext merges ctx into the record context. Later keys win.
func WithContext(ctx map[string]any) Option {
	return func(o *Options) {
		if o.Context == nil {
			o.Context = make(map[string]any, len(ctx))
		}

		maps.Copy(o.Context, ctx)
	}
}

// WithField adds a single context entry.
func WithField(key string, value any) Option {
	return WithContext(map[string]any{key: value})
}

// WithResolution sets the hint shown to users alongside a UserError.
func WithResolution(hint string) Option {
	return func(o *Options) { o.Resolution = hint }
}

// WithCause sets the wrapped cause of a UserError.
func WithCause(err error) Option {
	return func(o *Options) { o.Cause = err }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return o
}

// UserError is raised deliberately by application code to tell the user
// something went wrong, as opposed to an unexpected failure.
type UserError struct {
	Message    string
	Category   Category
	Level      Level
	Resolution string
	Details    map[string]any
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}

	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

// CreateUserError builds a UserError. Without options it is an
// application error at error level.
func CreateUserError(message string, opts ...Option) *UserError {
	o := buildOptions(opts)

	ue := &UserError{
		Message:    message,
		Category:   o.Category,
		Level:      o.Level,
		Resolution: o.Resolution,
		Details:    o.Context,
		Cause:      o.Cause,
	}

	if !ue.Category.Valid() {
		ue.Category = CategoryApplication
	}

	if ue.Level == LevelUnset {
		ue.Level = LevelError
	}

	return ue
}
