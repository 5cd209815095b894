// Package notifier runs the capture, build and dispatch cycle.
//
// Nothing raised inside the cycle leaves Notify: build failures, transport
// errors, non-success statuses and panics are handed to the failure policy
// and dropped. A notice that fails is lost; there is no retry.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sthembisoo/airbrake-notifier/capture"
	"github.com/sthembisoo/airbrake-notifier/config"
	"github.com/sthembisoo/airbrake-notifier/notice"
	"github.com/sthembisoo/airbrake-notifier/queue"
	"github.com/sthembisoo/airbrake-notifier/transport"
	"github.com/sthembisoo/airbrake-notifier/types"
)

var ErrMissingAPIKey = errors.New("notifier: api key is required")

// ContextFunc supplies the request context for faults caught by the hooks.
type ContextFunc func() types.RequestContext

// FailureFunc receives every error raised inside a notify cycle.
type FailureFunc func(ctx context.Context, err error)

// SilentFailures drops delivery failures without a trace.
func SilentFailures(context.Context, error) {}

// LogFailures logs delivery failures on logger. Entries carry the suppress
// marker so the capture hook does not report them again.
func LogFailures(logger *logrus.Logger) FailureFunc {
	return func(ctx context.Context, err error) {
		entry := logger.WithContext(capture.Suppress(ctx)).WithError(err)
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) {
			entry = entry.WithFields(logrus.Fields{
				"status":   statusErr.Code,
				"category": statusErr.Category(),
			})
		}
		entry.Warn("Notice was not delivered")
	}
}

type Options struct {
	APIKey       string
	Environment  string
	Endpoint     string
	Component    string
	ProjectRoot  string
	ReportStrict bool

	Transport transport.Transport
	Context   ContextFunc
	OnFailure FailureFunc
}

type Notifier struct {
	apiKey      string
	environment string
	endpoint    string
	component   string
	projectRoot string

	builder   *notice.Builder
	transport transport.Transport
	context   ContextFunc
	onFailure FailureFunc
	capture   *capture.Capture
	closer    io.Closer

	// emitting is set while a hook-driven notice is in flight. Faults raised
	// by that cycle are dropped.
	emitting atomic.Bool
}

func New(opts Options) (*Notifier, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Transport == nil {
		return nil, errors.New("notifier: transport is required")
	}

	n := &Notifier{
		apiKey:      opts.APIKey,
		environment: opts.Environment,
		endpoint:    opts.Endpoint,
		component:   opts.Component,
		projectRoot: opts.ProjectRoot,
		builder:     notice.NewBuilder(),
		transport:   opts.Transport,
		context:     opts.Context,
		onFailure:   opts.OnFailure,
	}
	if n.endpoint == "" {
		n.endpoint = transport.DefaultEndpoint
	}
	if n.context == nil {
		n.context = notice.CLIContext
	}
	if n.onFailure == nil {
		n.onFailure = SilentFailures
	}

	n.capture = capture.New(opts.ReportStrict, n.emit)
	n.capture.Component = opts.Component
	return n, nil
}

// FromConfig builds a notifier and, for the queue transport, opens the queue
// backend. Close releases it.
func FromConfig(cfg config.Config) (*Notifier, error) {
	opts := Options{
		APIKey:       cfg.APIKey,
		Environment:  cfg.Environment,
		Endpoint:     cfg.Endpoint,
		Component:    cfg.Component,
		ProjectRoot:  cfg.ProjectRoot,
		ReportStrict: cfg.ReportStrict,
		OnFailure:    SilentFailures,
	}
	if config.FailurePolicy(cfg.FailurePolicy) == config.FailureLog {
		opts.OnFailure = LogFailures(logrus.StandardLogger())
	}

	var q queue.Queue
	kind := transport.Kind(cfg.Transport)
	if kind == transport.KindQueue {
		var err error
		q, err = queue.Open(cfg.QueueOptions())
		if err != nil {
			return nil, err
		}
	}

	tr, err := transport.New(kind, transport.Options{
		Timeout:  cfg.Timeout(),
		Enqueuer: q,
		Channel:  cfg.QueueChannel,
	})
	if err != nil {
		if q != nil {
			_ = q.Close()
		}
		return nil, err
	}
	opts.Transport = tr

	n, err := New(opts)
	if err != nil {
		if q != nil {
			_ = q.Close()
		}
		return nil, err
	}
	if q != nil {
		n.closer = q
	}
	return n, nil
}

func (n *Notifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer.Close()
}

// Install hooks the notifier into rt. Installing twice is a no-op and returns false.
func (n *Notifier) Install(rt capture.Runtime) bool {
	return n.capture.Install(rt)
}

// Notify builds a notice for event and dispatches it once. It never panics
// and never returns an error; failures go to the failure policy.
//
// ctx is marked with capture.Suppress, so anything the cycle logs with it is
// never reported again.
func (n *Notifier) Notify(ctx context.Context, event types.ErrorEvent, rc types.RequestContext) (outcome transport.Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = capture.Suppress(ctx)
	defer func() {
		if r := recover(); r != nil {
			n.fail(ctx, fmt.Errorf("notify cycle panicked: %v", r))
			outcome = transport.Outcome{}
		}
	}()

	if rc.ProjectRoot == "" {
		rc.ProjectRoot = n.projectRoot
	}

	body, err := n.builder.Build(event, n.apiKey, n.environment, rc).XML()
	if err != nil {
		n.fail(ctx, err)
		return transport.Outcome{}
	}

	outcome, err = transport.Dispatch(ctx, n.transport, transport.Request{
		URL:     n.endpoint,
		Headers: transport.NoticeHeaders(),
		Body:    string(body),
	})
	if err != nil {
		n.fail(ctx, err)
	}
	return outcome
}

// NotifyError reports err as raised at the caller.
func (n *Notifier) NotifyError(ctx context.Context, err error, rc types.RequestContext) transport.Outcome {
	if err == nil {
		return transport.Outcome{}
	}

	trace := capture.Stack(1)
	event := types.ErrorEvent{
		Class:     capture.ClassOf(err),
		Message:   err.Error(),
		Trace:     trace,
		Component: n.component,
	}
	site := n.builder.Filter.Apply(trace)
	if len(site) == 0 {
		site = trace
	}
	if len(site) > 0 {
		event.File, event.Line = site[0].File, site[0].Line
	}

	return n.Notify(ctx, event, rc)
}

func (n *Notifier) emit(event types.ErrorEvent) {
	if !n.emitting.CompareAndSwap(false, true) {
		return
	}
	defer n.emitting.Store(false)

	n.Notify(capture.Suppress(context.Background()), event, n.requestContext())
}

func (n *Notifier) requestContext() (rc types.RequestContext) {
	defer func() {
		if recover() != nil {
			rc = types.RequestContext{}
		}
	}()
	return n.context()
}

func (n *Notifier) fail(ctx context.Context, err error) {
	defer func() { _ = recover() }()
	n.onFailure(ctx, err)
}
