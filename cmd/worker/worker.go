package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/sthembisoo/airbrake-notifier/config"
	"github.com/sthembisoo/airbrake-notifier/queue"
	"github.com/sthembisoo/airbrake-notifier/transport"
)

var (
	flagChannel        string
	flagReserveTimeout time.Duration
	flagOnce           bool
)

func NewCmdWorker() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver notices queued by the queue transport",
		Long: `Deliver notices queued by the queue transport.

Each queued notice is posted to Airbrake exactly once and then removed from
the queue, whatever the response. Failures are logged.

Examples:
  # Drain the default channel from every beanstalkd server in turn
  AIRBRAKE_BEANSTALK_SERVERS=queue1:11300,queue2:11300 airbrake-notify worker

  # Drain a SQL-backed queue once and exit
  AIRBRAKE_QUEUE_BACKEND=sql AIRBRAKE_DATABASE_DSN="host=db dbname=queue" airbrake-notify worker --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start()
		},
	}

	cmd.Flags().StringVarP(&flagChannel, "channel", "c", "", "Queue channel (defaults to AIRBRAKE_QUEUE_CHANNEL)")
	cmd.Flags().DurationVar(&flagReserveTimeout, "reserve-timeout", 5*time.Second, "How long to wait for a job before polling again")
	cmd.Flags().BoolVar(&flagOnce, "once", false, "Exit when the queue is empty")

	return cmd
}

func start() error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}
	config.SetupLogger(cfg.LogLevel)

	q, err := queue.Open(cfg.Options(cfg.Timeout()))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer q.Close()

	channel := flagChannel
	if channel == "" {
		channel = cfg.QueueChannel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &Worker{
		Consumer:       q,
		Transport:      transport.NewHTTPTransport(cfg.Timeout()),
		Channel:        channel,
		ReserveTimeout: flagReserveTimeout,
		Log:            logrus.WithField("cmd", "worker"),
	}
	return w.Run(ctx, flagOnce)
}

// Worker moves queued notices to the service.
type Worker struct {
	Consumer       queue.Consumer
	Transport      transport.Transport
	Channel        string
	ReserveTimeout time.Duration
	Log            *logrus.Entry
}

// Run processes jobs until ctx is done, or until the queue is empty when once is set.
func (w *Worker) Run(ctx context.Context, once bool) error {
	w.Log.WithField("channel", w.Channel).Info("Worker started")

	for {
		if ctx.Err() != nil {
			w.Log.Info("Worker stopped")
			return nil
		}

		processed, err := w.ProcessOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !processed && once {
			return nil
		}
	}
}

// ProcessOne reserves a job, delivers it and deletes it. It reports false
// when no job arrived within ReserveTimeout.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.Consumer.Reserve(ctx, w.Channel, w.ReserveTimeout)
	if errors.Is(err, queue.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve job: %w", err)
	}

	log := w.Log.WithField("job", job.ID)
	if outcome, err := w.deliver(ctx, job); err != nil {
		log.WithError(err).WithField("status", outcome.StatusCode).Warn("Notice was not delivered")
	} else {
		log.WithField("status", outcome.StatusCode).Info("Notice delivered")
	}

	if err := w.Consumer.Delete(ctx, job); err != nil {
		return true, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, job queue.Job) (transport.Outcome, error) {
	payload, err := queue.DecodePayload(job.Body)
	if err != nil {
		return transport.Outcome{}, err
	}

	return transport.Dispatch(ctx, w.Transport, transport.Request{
		URL:     payload.URL,
		Headers: payload.Headers,
		Body:    payload.Body,
	})
}
