package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sthembisoo/airbrake-notifier/types"
)

type fakeRuntime struct {
	onError    ErrorHandler
	onPanic    PanicHandler
	shutdown   []func()
	fatal      *Fatal
	errorCalls int
	panicCalls int
}

func (f *fakeRuntime) SetErrorHandler(h ErrorHandler) {
	f.errorCalls++
	f.onError = h
}

func (f *fakeRuntime) SetPanicHandler(h PanicHandler) {
	f.panicCalls++
	f.onPanic = h
}

func (f *fakeRuntime) RegisterShutdown(fn func()) {
	f.shutdown = append(f.shutdown, fn)
}

func (f *fakeRuntime) LastFatal() (Fatal, bool) {
	if f.fatal == nil {
		return Fatal{}, false
	}
	return *f.fatal, true
}

type recorder struct {
	events []types.ErrorEvent
}

func (r *recorder) emit(event types.ErrorEvent) {
	r.events = append(r.events, event)
}

func TestInstallIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(false, nil)

	assert.True(t, c.Install(rt))
	assert.False(t, c.Install(rt))

	assert.Equal(t, 1, rt.errorCalls)
	assert.Equal(t, 1, rt.panicCalls)
	assert.Len(t, rt.shutdown, 1)
}

func TestHandleErrorIgnoresStrictUnlessEnabled(t *testing.T) {
	rec := &recorder{}
	rt := &fakeRuntime{}
	New(false, rec.emit).Install(rt)

	rt.onError(types.SeverityStrict, "deprecated call", "a.go", 3)
	assert.Empty(t, rec.events)

	rt.onError(types.SeverityWarning, "disk almost full", "b.go", 7)
	require.Len(t, rec.events, 1)

	event := rec.events[0]
	assert.Equal(t, "Warning", event.Class)
	assert.Equal(t, "disk almost full", event.Message)
	assert.Equal(t, "b.go", event.File)
	assert.Equal(t, 7, event.Line)
	assert.NotEmpty(t, event.Trace)
}

func TestHandleErrorReportsStrictWhenEnabled(t *testing.T) {
	rec := &recorder{}
	rt := &fakeRuntime{}
	New(true, rec.emit).Install(rt)

	rt.onError(types.SeverityStrict, "deprecated call", "a.go", 3)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "Strict", rec.events[0].Class)
}

func TestHandlePanic(t *testing.T) {
	rec := &recorder{}
	c := New(false, rec.emit)
	c.Component = "billing"

	stack := []types.Frame{{File: "/app/pay.go", Line: 42, Method: "pay.Charge", Component: "example.com/app/pay"}}
	c.HandlePanic(errors.New("card declined"), stack)

	require.Len(t, rec.events, 1)
	event := rec.events[0]
	assert.Equal(t, "*errors.errorString", event.Class)
	assert.Equal(t, "card declined", event.Message)
	assert.Equal(t, "/app/pay.go", event.File)
	assert.Equal(t, 42, event.Line)
	assert.Equal(t, "billing", event.Component)
}

func TestHandlePanicNamesInnermostError(t *testing.T) {
	rec := &recorder{}
	c := New(false, rec.emit)

	err := fmt.Errorf("charge: %w", &fs.PathError{Op: "open", Path: "/etc/keys", Err: fs.ErrPermission})
	c.HandlePanic(err, nil)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "*fs.PathError", rec.events[0].Class)
	assert.Equal(t, "charge: open /etc/keys: permission denied", rec.events[0].Message)
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, "string", ClassOf("boom"))
	assert.Equal(t, "int", ClassOf(7))
	assert.Equal(t, "<nil>", ClassOf(nil))
	assert.Equal(t, "*errors.errorString", ClassOf(errors.New("plain")))
	assert.Equal(t, "*fs.PathError", ClassOf(fmt.Errorf("a: %w", fmt.Errorf("b: %w", &fs.PathError{}))))
	assert.Equal(t, "*errors.joinError", ClassOf(errors.Join(errors.New("x"), errors.New("y"))))
}

func TestHandleShutdown(t *testing.T) {
	rec := &recorder{}
	rt := &fakeRuntime{}
	New(false, rec.emit).Install(rt)

	rt.shutdown[0]()
	assert.Empty(t, rec.events, "no fatal fault, nothing to report")

	rt.fatal = &Fatal{Message: "out of memory", File: "main.go", Line: 9}
	rt.shutdown[0]()

	require.Len(t, rec.events, 1)
	assert.Equal(t, "Fatal", rec.events[0].Class)
	assert.Equal(t, "out of memory", rec.events[0].Message)
}

func TestHandlersSwallowPanics(t *testing.T) {
	c := New(false, func(types.ErrorEvent) { panic("emit failed") })

	assert.NotPanics(t, func() {
		c.HandleError(types.SeverityError, "x", "x.go", 1)
		c.HandlePanic("x", nil)
		c.HandleShutdown(&fakeRuntime{fatal: &Fatal{Message: "x"}})
	})
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	logger.SetLevel(logrus.DebugLevel)
	logger.SetReportCaller(true)
	logger.ExitFunc = func(int) {}
	return logger
}

func TestGoRuntimeLogHook(t *testing.T) {
	logger := newTestLogger()
	rt := NewGoRuntime(logger)
	rec := &recorder{}
	New(false, rec.emit).Install(rt)

	logger.WithError(errors.New("timeout")).Error("sync failed")
	logger.Debug("strict only")
	logger.Info("not a fault")
	logger.WithContext(Suppress(context.Background())).Warn("from the notify cycle")

	require.Len(t, rec.events, 1)
	event := rec.events[0]
	assert.Equal(t, "Error", event.Class)
	assert.Equal(t, "sync failed: timeout", event.Message)
	assert.Equal(t, "capture_test.go", filepath.Base(event.File))
	assert.Positive(t, event.Line)
}

func TestGoRuntimeFatalReportedOnExit(t *testing.T) {
	logger := newTestLogger()
	rt := NewGoRuntime(logger)
	rec := &recorder{}
	New(false, rec.emit).Install(rt)

	logger.Fatal("config missing")

	require.Len(t, rec.events, 1)
	assert.Equal(t, "Fatal", rec.events[0].Class)
	assert.Equal(t, "config missing", rec.events[0].Message)

	rt.Shutdown()
	assert.Len(t, rec.events, 1, "shutdown hook runs once")
}

func TestGoRuntimeRecover(t *testing.T) {
	rt := NewGoRuntime(newTestLogger())
	rt.Repanic = false
	rec := &recorder{}
	New(false, rec.emit).Install(rt)

	func() {
		defer rt.Recover()
		items := []int{1, 2}
		index := len(items) + 1
		_ = items[index]
	}()

	require.Len(t, rec.events, 1)
	event := rec.events[0]
	assert.Equal(t, "runtime.boundsError", event.Class)
	assert.Contains(t, event.Message, "index out of range")
	assert.Equal(t, "capture_test.go", filepath.Base(event.File))
}

func TestGoRuntimeRepanics(t *testing.T) {
	rt := NewGoRuntime(newTestLogger())
	rec := &recorder{}
	New(false, rec.emit).Install(rt)

	assert.PanicsWithValue(t, "boom", func() {
		defer rt.Recover()
		panic("boom")
	})
	require.Len(t, rec.events, 1)
	assert.Equal(t, "string", rec.events[0].Class)
}

func TestPanicSite(t *testing.T) {
	trace := []types.Frame{
		{Method: "capture.(*GoRuntime).Recover", Component: "github.com/sthembisoo/airbrake-notifier/capture"},
		{Method: "runtime.gopanic", Component: "runtime"},
		{Method: "runtime.goPanicIndex", Component: "runtime"},
		{File: "app.go", Line: 12, Method: "app.Run", Component: "example.com/app"},
	}

	site := PanicSite(trace)
	require.Len(t, site, 1)
	assert.Equal(t, "app.go", site[0].File)
}

func TestSplitFunction(t *testing.T) {
	component, method := splitFunction("github.com/sthembisoo/airbrake-notifier/notifier.(*Notifier).Notify")
	assert.Equal(t, "github.com/sthembisoo/airbrake-notifier/notifier", component)
	assert.Equal(t, "notifier.(*Notifier).Notify", method)

	component, method = splitFunction("main.main.func1")
	assert.Equal(t, "main", component)
	assert.Equal(t, "main.main.func1", method)
}
