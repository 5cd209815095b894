package types

import "fmt"

// Frame represents a single entry in a stack trace
type Frame struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Method string `json:"method,omitempty"`

	// Component is the package path that owns Method
	Component string `json:"component,omitempty"`
}

// ErrorEvent is one captured fault, normalized
type ErrorEvent struct {
	Class     string  `json:"class"`
	Message   string  `json:"message"`
	File      string  `json:"file"`
	Line      int     `json:"line"`
	Trace     []Frame `json:"trace"`
	Component string  `json:"component,omitempty"`
}

// RequestContext is a snapshot of the request or process that experienced the fault
type RequestContext struct {
	URI             string            `json:"uri"`
	Component       string            `json:"component"`
	Action          string            `json:"action"`
	Params          map[string]string `json:"params,omitempty"`
	Session         map[string]string `json:"session,omitempty"`
	EnvironmentVars map[string]string `json:"environmentVars,omitempty"`
	ProjectRoot     string            `json:"projectRoot"`
	EnvironmentName string            `json:"environmentName"`
}

// Severity classifies recoverable faults passed to the error hook
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityNotice
	SeverityDeprecated
	SeverityStrict
)

var severityNames = map[Severity]string{
	SeverityError:      "Error",
	SeverityWarning:    "Warning",
	SeverityNotice:     "Notice",
	SeverityDeprecated: "Deprecated",
	SeverityStrict:     "Strict",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}
