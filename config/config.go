package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/sthembisoo/airbrake-notifier/queue"
	"github.com/sthembisoo/airbrake-notifier/transport"
)

const Prefix = "AIRBRAKE"

// FailurePolicy decides what happens to a notice that could not be delivered.
type FailurePolicy string

const (
	FailureSilent FailurePolicy = "silent"
	FailureLog    FailurePolicy = "log"
)

// QueueConfig locates the deferred-delivery queue.
type QueueConfig struct {
	QueueBackend     string   `envconfig:"QUEUE_BACKEND" default:"beanstalk"`
	QueueChannel     string   `envconfig:"QUEUE_CHANNEL" default:"airbrake"`
	BeanstalkServers []string `envconfig:"BEANSTALK_SERVERS" default:"127.0.0.1:11300"`
	DatabaseDSN      string   `envconfig:"DATABASE_DSN"`
}

type Config struct {
	APIKey       string `envconfig:"API_KEY" required:"true"`
	Environment  string `envconfig:"ENVIRONMENT" default:"production"`
	Transport    string `envconfig:"TRANSPORT" default:"http"`
	ReportStrict bool   `envconfig:"REPORT_STRICT" default:"false"`
	TimeoutSecs  int    `envconfig:"TIMEOUT" default:"2"`
	Endpoint     string `envconfig:"ENDPOINT" default:"https://api.airbrake.io/notifier_api/v2/notices"`
	ProjectRoot  string `envconfig:"PROJECT_ROOT"`
	Component    string `envconfig:"COMPONENT"`

	QueueConfig

	FailurePolicy string `envconfig:"FAILURE_POLICY" default:"log"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
}

// WorkerConfig is what the delivery worker needs; it never builds notices.
type WorkerConfig struct {
	QueueConfig

	TimeoutSecs int    `envconfig:"TIMEOUT" default:"2"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the AIRBRAKE_* environment.
func Load() (Config, error) {
	var config Config
	if err := envconfig.Process(Prefix, &config); err != nil {
		return Config{}, fmt.Errorf("error processing env config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is required")
	}

	switch transport.Kind(c.Transport) {
	case transport.KindHTTP, transport.KindQueue:
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}

	if err := c.QueueConfig.Validate(); err != nil {
		return err
	}

	switch FailurePolicy(c.FailurePolicy) {
	case FailureSilent, FailureLog:
	default:
		return fmt.Errorf("unsupported failure policy %q", c.FailurePolicy)
	}

	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSecs)
	}
	return nil
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c Config) QueueOptions() queue.Options {
	return c.QueueConfig.Options(c.Timeout())
}

func (c QueueConfig) Validate() error {
	switch queue.Backend(c.QueueBackend) {
	case queue.BackendBeanstalk, queue.BackendSQL:
		return nil
	default:
		return fmt.Errorf("unsupported queue backend %q", c.QueueBackend)
	}
}

func (c QueueConfig) Options(dialTimeout time.Duration) queue.Options {
	return queue.Options{
		Backend:          queue.Backend(c.QueueBackend),
		BeanstalkServers: c.BeanstalkServers,
		DatabaseDSN:      c.DatabaseDSN,
		DialTimeout:      dialTimeout,
	}
}

// LoadWorker reads the AIRBRAKE_* environment for the delivery worker.
func LoadWorker() (WorkerConfig, error) {
	var config WorkerConfig
	if err := envconfig.Process(Prefix, &config); err != nil {
		return WorkerConfig{}, fmt.Errorf("error processing env config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return WorkerConfig{}, err
	}
	if config.TimeoutSecs <= 0 {
		return WorkerConfig{}, fmt.Errorf("timeout must be positive, got %d", config.TimeoutSecs)
	}
	return config, nil
}

func (c WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SetupLogger configures the standard logrus logger.
func SetupLogger(levelStr string) {
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = logrus.InfoLevel
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
