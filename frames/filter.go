// Package frames decides which stack frames belong to the notifier itself.
package frames

import (
	"strings"

	"github.com/samber/lo"
	"github.com/sthembisoo/airbrake-notifier/types"
)

// Module is the import path of this notifier. Frames owned by it, or by any
// of its packages, are never reported.
const Module = "github.com/sthembisoo/airbrake-notifier"

const logrusPackage = "github.com/sirupsen/logrus"

// IsInternal reports whether frame is owned by the owner component.
func IsInternal(frame types.Frame, owner string) bool {
	if owner == "" || frame.Component == "" {
		return false
	}
	return frame.Component == owner || strings.HasPrefix(frame.Component, owner+"/")
}

// Filter strips internal frames from traces.
type Filter struct {
	Owners []string
}

// DefaultFilter treats the notifier and the logging plumbing its hooks run
// under as internal.
func DefaultFilter() Filter {
	return Filter{Owners: []string{Module, logrusPackage}}
}

// Internal reports whether any owner claims frame.
func (f Filter) Internal(frame types.Frame) bool {
	return lo.SomeBy(f.Owners, func(owner string) bool {
		return IsInternal(frame, owner)
	})
}

// Apply returns the application frames of trace in their original order.
func (f Filter) Apply(trace []types.Frame) []types.Frame {
	return lo.Reject(trace, func(frame types.Frame, _ int) bool {
		return f.Internal(frame)
	})
}
