// Package capture turns host-runtime faults into ErrorEvents.
//
// A Capture is installed once on a Runtime. The Runtime owns the process-wide
// registration (logrus hooks, exit handlers, deferred recover); the Capture
// only normalizes what the Runtime hands it and passes the event on.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sthembisoo/airbrake-notifier/types"
)

// ErrorHandler receives recoverable faults.
type ErrorHandler func(severity types.Severity, message, file string, line int)

// PanicHandler receives a recovered panic value and the stack at the recover site.
type PanicHandler func(value any, stack []types.Frame)

// Fatal is the last fatal fault the runtime saw before shutting down.
type Fatal struct {
	Message string
	File    string
	Line    int
	Trace   []types.Frame
}

// Runtime is the host side of the capture hooks.
type Runtime interface {
	SetErrorHandler(ErrorHandler)
	SetPanicHandler(PanicHandler)
	RegisterShutdown(func())
	LastFatal() (Fatal, bool)
}

// EmitFunc receives every normalized event.
type EmitFunc func(types.ErrorEvent)

// Capture normalizes runtime faults into ErrorEvents.
type Capture struct {
	ReportStrict bool
	Component    string

	emit EmitFunc
	once sync.Once
}

func New(reportStrict bool, emit EmitFunc) *Capture {
	return &Capture{
		ReportStrict: reportStrict,
		emit:         emit,
	}
}

// Install registers the error, panic and shutdown hooks on rt. Only the first
// call registers anything; it reports whether this call did.
func (c *Capture) Install(rt Runtime) bool {
	installed := false
	c.once.Do(func() {
		rt.SetErrorHandler(c.HandleError)
		rt.SetPanicHandler(c.HandlePanic)
		rt.RegisterShutdown(func() { c.HandleShutdown(rt) })
		installed = true
	})
	return installed
}

// HandleError reports a recoverable fault. Strict-severity faults are dropped
// unless ReportStrict is set.
func (c *Capture) HandleError(severity types.Severity, message, file string, line int) {
	defer swallow()

	if severity == types.SeverityStrict && !c.ReportStrict {
		return
	}

	c.send(types.ErrorEvent{
		Class:     severity.String(),
		Message:   message,
		File:      file,
		Line:      line,
		Trace:     Stack(1),
		Component: c.Component,
	})
}

// HandlePanic reports a recovered panic value.
func (c *Capture) HandlePanic(value any, stack []types.Frame) {
	defer swallow()

	event := types.ErrorEvent{
		Class:     ClassOf(value),
		Trace:     stack,
		Component: c.Component,
	}
	if err, ok := value.(error); ok {
		event.Message = err.Error()
	} else {
		event.Message = fmt.Sprint(value)
	}
	if len(stack) > 0 {
		event.File = stack[0].File
		event.Line = stack[0].Line
	}
	c.send(event)
}

// ClassOf names the dynamic type of value. Errors are unwrapped first, so a
// wrapped *os.PathError is reported as *fs.PathError, not *fmt.wrapError.
func ClassOf(value any) string {
	err, ok := value.(error)
	if !ok || err == nil {
		return fmt.Sprintf("%T", value)
	}
	for inner := errors.Unwrap(err); inner != nil; inner = errors.Unwrap(inner) {
		err = inner
	}
	return fmt.Sprintf("%T", err)
}

// HandleShutdown reports the runtime's last fatal fault, if there is one.
func (c *Capture) HandleShutdown(rt Runtime) {
	defer swallow()

	fatal, ok := rt.LastFatal()
	if !ok {
		return
	}
	c.send(types.ErrorEvent{
		Class:     "Fatal",
		Message:   fatal.Message,
		File:      fatal.File,
		Line:      fatal.Line,
		Trace:     fatal.Trace,
		Component: c.Component,
	})
}

func (c *Capture) send(event types.ErrorEvent) {
	if c.emit != nil {
		c.emit(event)
	}
}

// swallow discards a panic raised while normalizing a fault; hooks run in
// already failing code.
func swallow() {
	_ = recover()
}
