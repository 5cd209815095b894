// Package notice assembles Airbrake notifier API v2 documents.
package notice

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/samber/lo"
	"github.com/sthembisoo/airbrake-notifier/frames"
	"github.com/sthembisoo/airbrake-notifier/types"
)

//go:embed notice.xml.tmpl
var noticeTemplate string

const (
	NotifierName    = "go-airbrake-notifier"
	NotifierVersion = "0.3.0"
	NotifierURL     = "https://github.com/sthembisoo/airbrake-notifier"
	APIVersion      = "2.0"

	DefaultEnvironment = "production"
)

var tmpl = template.Must(template.New("notice").Funcs(template.FuncMap{
	"xml":  escape,
	"dict": dict,
}).Parse(noticeTemplate))

// Identity names the notifier inside every notice
type Identity struct {
	Name    string
	Version string
	URL     string
}

// Line is one backtrace entry
type Line struct {
	File   string
	Number int
	Method string
}

// Var is one key/value entry of a params, session or cgi-data block
type Var struct {
	Key   string
	Value string
}

type ErrorBlock struct {
	Class     string
	Message   string
	Backtrace []Line
}

type RequestBlock struct {
	URL       string
	Component string
	Action    string
	Params    []Var
	Session   []Var
	CGIData   []Var
}

type ServerEnvironment struct {
	ProjectRoot     string
	EnvironmentName string
}

// Notice is a fully assembled report. Build it with Build and do not modify it afterwards.
type Notice struct {
	APIVersion        string
	APIKey            string
	Notifier          Identity
	Error             ErrorBlock
	Request           RequestBlock
	ServerEnvironment ServerEnvironment
}

// Builder combines events with request context.
type Builder struct {
	Filter frames.Filter
}

func NewBuilder() *Builder {
	return &Builder{Filter: frames.DefaultFilter()}
}

// Build assembles a notice with the default frame filter.
func Build(event types.ErrorEvent, apiKey, environmentName string, rc types.RequestContext) Notice {
	return NewBuilder().Build(event, apiKey, environmentName, rc)
}

// Build assembles a notice. The fault site always leads the backtrace,
// followed by the application frames of the event's trace.
func (b *Builder) Build(event types.ErrorEvent, apiKey, environmentName string, rc types.RequestContext) Notice {
	backtrace := []Line{{File: event.File, Number: event.Line}}
	for _, frame := range b.Filter.Apply(event.Trace) {
		backtrace = append(backtrace, Line{File: frame.File, Number: frame.Line, Method: frame.Method})
	}

	component := rc.Component
	if component == "" {
		component = event.Component
	}

	environment := lo.CoalesceOrEmpty(environmentName, rc.EnvironmentName, DefaultEnvironment)

	return Notice{
		APIVersion: APIVersion,
		APIKey:     apiKey,
		Notifier: Identity{
			Name:    NotifierName,
			Version: NotifierVersion,
			URL:     NotifierURL,
		},
		Error: ErrorBlock{
			Class:     event.Class,
			Message:   event.Message,
			Backtrace: backtrace,
		},
		Request: RequestBlock{
			URL:       rc.URI,
			Component: component,
			Action:    rc.Action,
			Params:    vars(rc.Params),
			Session:   vars(rc.Session),
			CGIData:   vars(rc.EnvironmentVars),
		},
		ServerEnvironment: ServerEnvironment{
			ProjectRoot:     rc.ProjectRoot,
			EnvironmentName: environment,
		},
	}
}

// XML renders the notice. Output is byte-identical for equal notices.
func (n Notice) XML() ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return nil, fmt.Errorf("failed to render notice: %w", err)
	}
	return buf.Bytes(), nil
}

// vars flattens a map in key order; nil when the map is empty.
func vars(source map[string]string) []Var {
	if len(source) == 0 {
		return nil
	}
	keys := lo.Keys(source)
	slices.Sort(keys)
	return lo.Map(keys, func(key string, _ int) Var {
		return Var{Key: key, Value: source[key]}
	})
}

func escape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("dict: odd number of arguments")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}
