package errors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCounterCapacity is the number of distinct occurrence keys
	// tracked before the least recently seen key is evicted.
	DefaultCounterCapacity = 1000

	defaultReportTimeout = 10 * time.Second
)

// Manager is the single sink for runtime errors. It classifies each error,
// counts occurrences per category:level:message, logs at a severity
// derived from the level, and forwards severe errors to a Reporter.
type Manager struct {
	logger   *slog.Logger
	reporter Reporter
	exit     func(code int)

	reportTimeout time.Duration

	mu     sync.Mutex
	counts *lru.Cache[string, int]

	// pending counts in-flight reports; idle is signalled when it drops
	// to zero. Reports may start while Flush is waiting.
	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

// WithReporter sets the sink for severe errors.
func WithReporter(r Reporter) ManagerOption {
	return func(m *Manager) error {
		if r != nil {
			m.reporter = r
		}

		return nil
	}
}

// WithCounterCapacity bounds the occurrence table.
func WithCounterCapacity(n int) ManagerOption {
	return func(m *Manager) error {
		c, err := lru.New[string, int](n)
		if err != nil {
			return fmt.Errorf("creating occurrence counter: %w", err)
		}

		m.counts = c

		return nil
	}
}

// WithExitFunc replaces os.Exit for HandleFatalError.
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) error {
		m.exit = exit
		return nil
	}
}

// WithReportTimeout bounds each Reporter call.
func WithReportTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) error {
		m.reportTimeout = d
		return nil
	}
}

// NewManager creates a Manager logging to logger.
func NewManager(logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger:        logger,
		reporter:      NoopReporter{},
		exit:          os.Exit,
		reportTimeout: defaultReportTimeout,
	}
	m.idle = sync.NewCond(&m.pendingMu)

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.counts == nil {
		c, err := lru.New[string, int](DefaultCounterCapacity)
		if err != nil {
			return nil, fmt.Errorf("creating occurrence counter: %w", err)
		}

		m.counts = c
	}

	return m, nil
}

// FormatError normalizes err without counting, logging or reporting it.
func (m *Manager) FormatError(err any, opts ...Option) Record {
	return Format(err, opts...)
}

// CreateUserError builds a deliberate user-facing error.
func (m *Manager) CreateUserError(message string, opts ...Option) *UserError {
	return CreateUserError(message, opts...)
}

// HandleError classifies, counts, logs and possibly reports err. It never
// panics regardless of what err is.
func (m *Manager) HandleError(err any, opts ...Option) {
	m.handle(Format(err, opts...))
}

func (m *Manager) handle(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("error handler recovered", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	n := m.increment(rec.Key())
	attrs := append(rec.attrs(), slog.Int("occurrences", n))

	switch {
	case rec.Level.Severe():
		m.logger.Error(rec.Message, attrs...)
		m.report(rec)
	case rec.Level.Warning():
		m.logger.Warn(rec.Message, attrs...)
	default:
		m.logger.Info(rec.Message, attrs...)
	}
}

// HandleFatalError logs err as critical, waits for pending reports and
// terminates the process with exit code 1.
func (m *Manager) HandleFatalError(err any) {
	rec := Format(err, WithLevel(LevelCritical), WithCategory(CategoryApplication))

	m.handle(rec)
	m.Flush()
	m.exit(1)
}

// HandleUnhandledRejection records an error that a background task
// returned with nobody waiting on it. source names the task.
func (m *Manager) HandleUnhandledRejection(reason any, source string) {
	opts := []Option{WithLevel(LevelMajor)}
	if source != "" {
		opts = append(opts, WithField("source", source))
	}

	m.HandleError(reason, opts...)
}

// HandleUncaughtException records a recovered panic as critical. It does
// not terminate the process.
func (m *Manager) HandleUncaughtException(err any) {
	m.HandleError(err, WithLevel(LevelCritical))
}

// Recover must be deferred directly. It turns a panic in the current
// goroutine into HandleUncaughtException.
func (m *Manager) Recover() {
	if r := recover(); r != nil {
		m.HandleUncaughtException(&PanicError{Value: r, Stack: string(debug.Stack())})
	}
}

// Go runs fn in a new goroutine. Panics are handled as uncaught
// exceptions and returned errors as unhandled rejections.
func (m *Manager) Go(name string, fn func() error) {
	go func() {
		defer m.Recover()

		if err := fn(); err != nil {
			m.HandleUnhandledRejection(err, name)
		}
	}()
}

// ReportError forwards err to the Reporter without blocking. Reporter
// failures are logged at debug level and otherwise ignored.
func (m *Manager) ReportError(err any, opts ...Option) {
	m.report(Format(err, opts...))
}

func (m *Manager) report(rec Record) {
	m.pendingMu.Lock()
	m.pending++
	m.pendingMu.Unlock()

	go func() {
		defer m.reportDone()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Debug("error reporter panicked", slog.String("panic", fmt.Sprint(r)))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.reportTimeout)
		defer cancel()

		if err := m.reporter.Report(ctx, rec); err != nil {
			m.logger.Debug("error report failed", slog.String("error", err.Error()))
		}
	}()
}

func (m *Manager) reportDone() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	m.pending--
	if m.pending == 0 {
		m.idle.Broadcast()
	}
}

// Flush blocks until no report is in flight.
func (m *Manager) Flush() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	for m.pending > 0 {
		m.idle.Wait()
	}
}

func (m *Manager) increment(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, _ := m.counts.Get(key)
	n++
	m.counts.Add(key, n)

	return n
}

// Count returns the occurrences recorded for key.
func (m *Manager) Count(key string) int {
	n, _ := m.counts.Peek(key)
	return n
}

// Counts returns a snapshot of the occurrence table.
func (m *Manager) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, m.counts.Len())
	for _, k := range m.counts.Keys() {
		if n, ok := m.counts.Peek(k); ok {
			out[k] = n
		}
	}

	return out
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}

func (e *PanicError) ErrorContext() map[string]any {
	return map[string]any{"stack": e.Stack}
}
