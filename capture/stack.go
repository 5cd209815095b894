package capture

import (
	"runtime"
	"strings"

	"github.com/sthembisoo/airbrake-notifier/frames"
	"github.com/sthembisoo/airbrake-notifier/types"
)

const maxDepth = 64

// Stack captures the calling goroutine's stack, skipping skip frames above
// the caller of Stack.
func Stack(skip int) []types.Frame {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	trace := make([]types.Frame, 0, n)
	for {
		frame, more := frames.Next()
		if frame.Function != "" || frame.File != "" {
			component, method := splitFunction(frame.Function)
			trace = append(trace, types.Frame{
				File:      frame.File,
				Line:      frame.Line,
				Method:    method,
				Component: component,
			})
		}
		if !more {
			break
		}
	}
	return trace
}

// splitFunction turns "example.com/app/pkg.(*T).Do" into its package path
// and "pkg.(*T).Do".
func splitFunction(fn string) (component, method string) {
	slash := strings.LastIndex(fn, "/")
	dot := strings.Index(fn[slash+1:], ".")
	if dot < 0 {
		return "", fn
	}
	return fn[:slash+1+dot], fn[slash+1:]
}

// PanicSite drops the frames above the panicking function: the recover
// handler and the runtime's panic machinery.
func PanicSite(trace []types.Frame) []types.Frame {
	start := -1
	for i, frame := range trace {
		if frame.Component == "runtime" && strings.Contains(frame.Method, "panic") {
			start = i
			break
		}
	}
	if start < 0 {
		return trace
	}
	for start < len(trace) && trace[start].Component == "runtime" {
		start++
	}
	if start == len(trace) {
		return trace
	}
	return trace[start:]
}

// callSite returns the first frame not owned by any of owners.
func callSite(trace []types.Frame, owners ...string) (types.Frame, bool) {
	app := frames.Filter{Owners: owners}.Apply(trace)
	if len(app) == 0 {
		return types.Frame{}, false
	}
	return app[0], true
}
