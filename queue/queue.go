// Package queue carries notices to an out-of-process delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const DefaultChannel = "airbrake"

var (
	// ErrNoJob is returned by Reserve when nothing arrived before the timeout.
	ErrNoJob = errors.New("queue: no job available")

	ErrUnknownBackend = errors.New("queue: unknown backend")
)

// Payload is the message a deferred transport enqueues.
type Payload struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

// Job is a reserved message.
type Job struct {
	ID      string
	Channel string
	Body    []byte

	// Source is the backend node holding the job, when there is more than one.
	Source string
}

// Enqueuer is the producing side, used by the deferred transport.
type Enqueuer interface {
	Put(ctx context.Context, channel string, body []byte) error
}

// Consumer is the worker side.
type Consumer interface {
	Reserve(ctx context.Context, channel string, timeout time.Duration) (Job, error)
	Delete(ctx context.Context, job Job) error
}

// Queue is a backend that can do both.
type Queue interface {
	Enqueuer
	Consumer
	Close() error
}

type Backend string

const (
	BackendBeanstalk Backend = "beanstalk"
	BackendSQL       Backend = "sql"
)

type Options struct {
	Backend          Backend
	BeanstalkServers []string
	DatabaseDSN      string
	DialTimeout      time.Duration
}

// Open connects to the configured backend.
func Open(opts Options) (Queue, error) {
	switch opts.Backend {
	case BackendBeanstalk:
		return NewBeanstalk(opts.BeanstalkServers, opts.DialTimeout)
	case BackendSQL:
		return OpenSQL(opts.DatabaseDSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
