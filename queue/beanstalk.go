package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/beanstalkd/go-beanstalk"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	beanstalkPriority = 1024
	beanstalkTTR      = time.Minute
)

var ErrNoServers = errors.New("queue: no beanstalk servers configured")

// Beanstalk puts each message on a server picked at random from Servers and
// reserves from all of them in turn.
type Beanstalk struct {
	Servers     []string
	DialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*beanstalk.Conn
	next  int
}

func NewBeanstalk(servers []string, dialTimeout time.Duration) (*Beanstalk, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	return &Beanstalk{
		Servers:     servers,
		DialTimeout: dialTimeout,
		conns:       map[string]*beanstalk.Conn{},
	}, nil
}

func (b *Beanstalk) Put(ctx context.Context, channel string, body []byte) error {
	addr := lo.Sample(b.Servers)

	conn, err := beanstalk.DialTimeout("tcp", addr, b.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to beanstalkd %s: %w", addr, err)
	}
	defer conn.Close()

	id, err := beanstalk.NewTube(conn, channel).Put(body, beanstalkPriority, 0, beanstalkTTR)
	if err != nil {
		return fmt.Errorf("failed to put job on tube %s: %w", channel, err)
	}

	logrus.WithContext(ctx).WithFields(logrus.Fields{
		"server":  addr,
		"channel": channel,
		"job":     id,
	}).Debug("Notice enqueued")
	return nil
}

// Reserve asks each server in turn, giving each a share of timeout, until a
// job arrives or timeout has passed.
func (b *Beanstalk) Reserve(ctx context.Context, channel string, timeout time.Duration) (Job, error) {
	deadline := time.Now().Add(timeout)
	share := max(timeout/time.Duration(len(b.Servers)), time.Second)

	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}

		addr := b.nextServer()
		wait := min(share, max(time.Until(deadline), 0))

		job, err := b.reserveFrom(addr, channel, wait)
		if !errors.Is(err, ErrNoJob) {
			return job, err
		}
		if !time.Now().Before(deadline) {
			return Job{}, ErrNoJob
		}
	}
}

func (b *Beanstalk) reserveFrom(addr, channel string, wait time.Duration) (Job, error) {
	conn, err := b.consumer(addr)
	if err != nil {
		return Job{}, err
	}

	id, body, err := beanstalk.NewTubeSet(conn, channel).Reserve(wait)
	if errors.Is(err, beanstalk.ErrTimeout) {
		return Job{}, ErrNoJob
	}
	if err != nil {
		b.drop(addr)
		return Job{}, fmt.Errorf("failed to reserve from tube %s on %s: %w", channel, addr, err)
	}

	return Job{ID: strconv.FormatUint(id, 10), Channel: channel, Body: body, Source: addr}, nil
}

func (b *Beanstalk) Delete(_ context.Context, job Job) error {
	id, err := strconv.ParseUint(job.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid beanstalk job id %q: %w", job.ID, err)
	}

	addr := lo.CoalesceOrEmpty(job.Source, b.Servers[0])
	conn, err := b.consumer(addr)
	if err != nil {
		return err
	}
	if err := conn.Delete(id); err != nil {
		return fmt.Errorf("failed to delete job %d on %s: %w", id, addr, err)
	}
	return nil
}

func (b *Beanstalk) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.conns, addr)
	}
	return errors.Join(errs...)
}

func (b *Beanstalk) nextServer() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.Servers[b.next%len(b.Servers)]
	b.next++
	return addr
}

func (b *Beanstalk) consumer(addr string) (*beanstalk.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.conns[addr]; ok {
		return conn, nil
	}

	conn, err := beanstalk.DialTimeout("tcp", addr, b.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to beanstalkd %s: %w", addr, err)
	}
	b.conns[addr] = conn
	return conn, nil
}

func (b *Beanstalk) drop(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.conns[addr]; ok {
		_ = conn.Close()
		delete(b.conns, addr)
	}
}
