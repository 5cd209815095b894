package capture

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sthembisoo/airbrake-notifier/frames"
	"github.com/sthembisoo/airbrake-notifier/types"
)

type suppressKey struct{}

// Suppress marks ctx so that log entries carrying it never reach the error
// hook. The notify cycle logs with such a context.
func Suppress(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// Suppressed reports whether ctx was marked by Suppress.
func Suppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	marked, _ := ctx.Value(suppressKey{}).(bool)
	return marked
}

var levelSeverity = map[logrus.Level]types.Severity{
	logrus.ErrorLevel: types.SeverityError,
	logrus.WarnLevel:  types.SeverityWarning,
	logrus.DebugLevel: types.SeverityStrict,
}

// GoRuntime is the Runtime of a Go process that logs through logrus.
//
// Error and warning entries feed the error handler, debug entries are
// strict-severity faults, and fatal entries become the last fatal fault that
// the shutdown hook reports from logrus' exit handlers. Panics reach the panic
// handler through Recover, which the host defers at the top of main and of
// every goroutine it starts (see Go).
type GoRuntime struct {
	// Repanic re-raises a recovered panic after it has been reported.
	Repanic bool

	mu        sync.Mutex
	onError   ErrorHandler
	onPanic   PanicHandler
	shutdown  []func()
	lastFatal *Fatal
}

// NewGoRuntime attaches the capture hook to logger.
func NewGoRuntime(logger *logrus.Logger) *GoRuntime {
	rt := &GoRuntime{Repanic: true}
	logger.AddHook(&logHook{rt: rt})
	return rt
}

func (rt *GoRuntime) SetErrorHandler(h ErrorHandler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.onError = h
}

func (rt *GoRuntime) SetPanicHandler(h PanicHandler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.onPanic = h
}

// RegisterShutdown runs fn when logrus exits the process after a fatal entry,
// or when Shutdown is called. fn runs at most once.
func (rt *GoRuntime) RegisterShutdown(fn func()) {
	var once sync.Once
	wrapped := func() { once.Do(fn) }

	rt.mu.Lock()
	rt.shutdown = append(rt.shutdown, wrapped)
	rt.mu.Unlock()

	logrus.RegisterExitHandler(wrapped)
}

func (rt *GoRuntime) LastFatal() (Fatal, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.lastFatal == nil {
		return Fatal{}, false
	}
	return *rt.lastFatal, true
}

// Shutdown runs the registered shutdown hooks. Defer it in main for a normal exit.
func (rt *GoRuntime) Shutdown() {
	rt.mu.Lock()
	hooks := append([]func(){}, rt.shutdown...)
	rt.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Recover reports a panic in progress. It must be deferred directly.
func (rt *GoRuntime) Recover() {
	r := recover()
	if r == nil {
		return
	}
	rt.handlePanic(r)
	if rt.Repanic {
		panic(r)
	}
}

// Go runs fn in a new goroutine guarded by Recover.
func (rt *GoRuntime) Go(fn func()) {
	go func() {
		defer rt.Recover()
		fn()
	}()
}

func (rt *GoRuntime) handlePanic(value any) {
	rt.mu.Lock()
	h := rt.onPanic
	rt.mu.Unlock()
	if h == nil {
		return
	}
	h(value, PanicSite(Stack(1)))
}

func (rt *GoRuntime) fire(entry *logrus.Entry) {
	if Suppressed(entry.Context) {
		return
	}

	trace := Stack(2)
	site, _ := callSite(trace, frames.Module+"/capture", "github.com/sirupsen/logrus")
	file, line := site.File, site.Line
	if entry.HasCaller() {
		file, line = entry.Caller.File, entry.Caller.Line
	}

	message := entry.Message
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && err != nil {
		message += ": " + err.Error()
	}

	if entry.Level <= logrus.FatalLevel {
		rt.mu.Lock()
		rt.lastFatal = &Fatal{Message: message, File: file, Line: line, Trace: trace}
		rt.mu.Unlock()
		return
	}

	severity, ok := levelSeverity[entry.Level]
	if !ok {
		return
	}
	rt.mu.Lock()
	h := rt.onError
	rt.mu.Unlock()
	if h != nil {
		h(severity, message, file, line)
	}
}

// logHook adapts GoRuntime to logrus.Hook.
type logHook struct {
	rt *GoRuntime
}

func (h *logHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.DebugLevel,
	}
}

func (h *logHook) Fire(entry *logrus.Entry) error {
	defer swallow()
	h.rt.fire(entry)
	return nil
}
