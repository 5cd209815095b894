// Package transport delivers serialized notices to the error-tracking service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sthembisoo/airbrake-notifier/queue"
)

const (
	DefaultEndpoint = "https://api.airbrake.io/notifier_api/v2/notices"
	DefaultTimeout  = 2 * time.Second
)

// Kind selects a transport implementation.
type Kind string

const (
	KindHTTP  Kind = "http"
	KindQueue Kind = "queue"
)

var (
	ErrUnknownKind = errors.New("transport: unknown kind")

	ErrUnsupportedTransportSecurity = errors.New("unsupported-transport-security")
	ErrInvalidNotice                = errors.New("invalid-notice-schema")
	ErrRemoteService                = errors.New("remote-service-error")
	ErrUnknownRemote                = errors.New("unknown-remote-error")
)

// Request is one delivery attempt.
type Request struct {
	URL     string
	Headers map[string]string
	Body    string
}

// NoticeHeaders are sent with every XML notice.
func NoticeHeaders() map[string]string {
	return map[string]string{
		"Accept":       "text/xml, application/xml",
		"Content-Type": "text/xml",
	}
}

// Outcome is what a transport reports after a delivery attempt.
type Outcome struct {
	Enqueued   bool
	StatusCode int
}

func Delivered(statusCode int) Outcome {
	return Outcome{StatusCode: statusCode}
}

func Enqueued() Outcome {
	return Outcome{Enqueued: true}
}

func (o Outcome) String() string {
	if o.Enqueued {
		return "enqueued"
	}
	return fmt.Sprintf("delivered (%d)", o.StatusCode)
}

// Transport is implemented by HTTPTransport and QueueTransport only.
type Transport interface {
	Kind() Kind
	Deliver(ctx context.Context, req Request) (Outcome, error)
}

type Options struct {
	Timeout  time.Duration
	Enqueuer queue.Enqueuer
	Channel  string
}

// New builds the transport for kind.
func New(kind Kind, opts Options) (Transport, error) {
	switch kind {
	case KindHTTP:
		return NewHTTPTransport(opts.Timeout), nil
	case KindQueue:
		if opts.Enqueuer == nil {
			return nil, errors.New("transport: queue transport needs an enqueuer")
		}
		return NewQueueTransport(opts.Enqueuer, opts.Channel), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// StatusError is a non-success response from the service.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnsupportedTransportSecurity):
		return "the requested project does not support SSL, resubmit over http"
	case errors.Is(e.Err, ErrInvalidNotice):
		return "the submitted notice was invalid, check the notice xml against the schema"
	case errors.Is(e.Err, ErrRemoteService):
		return "unexpected error on the remote service"
	default:
		return fmt.Sprintf("unknown error code from the airbrake API: %d", e.Code)
	}
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Category names the classification, e.g. "invalid-notice-schema" or
// "unknown-remote-error(999)".
func (e *StatusError) Category() string {
	if errors.Is(e.Err, ErrUnknownRemote) {
		return fmt.Sprintf("%s(%d)", ErrUnknownRemote, e.Code)
	}
	return e.Err.Error()
}

// Classify maps a response status to nil (2xx) or a *StatusError.
func Classify(status int) error {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	var err error
	switch status {
	case http.StatusForbidden:
		err = ErrUnsupportedTransportSecurity
	case http.StatusUnprocessableEntity:
		err = ErrInvalidNotice
	case http.StatusInternalServerError:
		err = ErrRemoteService
	default:
		err = ErrUnknownRemote
	}
	return &StatusError{Code: status, Err: err}
}

// Dispatch delivers req through t once. Statuses returned by synchronous
// transports are classified; enqueued outcomes never are.
func Dispatch(ctx context.Context, t Transport, req Request) (Outcome, error) {
	outcome, err := t.Deliver(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if outcome.Enqueued {
		return outcome, nil
	}
	if err := Classify(outcome.StatusCode); err != nil {
		return outcome, err
	}
	return outcome, nil
}
