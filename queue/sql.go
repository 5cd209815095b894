package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pollInterval = 200 * time.Millisecond

// NoticeJob is a queued notice waiting for the delivery worker.
type NoticeJob struct {
	ID         string     `gorm:"size:36;primaryKey" json:"id"`
	Channel    string     `gorm:"size:100;index" json:"channel"`
	Payload    string     `gorm:"type:text" json:"payload"`
	ReservedAt *time.Time `gorm:"index" json:"reserved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

// SQL keeps the queue in a database table shared by producers and the worker.
type SQL struct {
	db *gorm.DB
}

// OpenSQL connects to a PostgreSQL queue database.
func OpenSQL(dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("queue: database DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}
	return NewSQL(db)
}

// NewSQL uses an open connection and migrates the job table.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&NoticeJob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate notice jobs: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Put(ctx context.Context, channel string, body []byte) error {
	job := &NoticeJob{
		ID:      uuid.NewString(),
		Channel: channel,
		Payload: string(body),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to insert notice job: %w", err)
	}

	logrus.WithContext(ctx).WithFields(logrus.Fields{
		"channel": channel,
		"job":     job.ID,
	}).Debug("Notice enqueued")
	return nil
}

// Reserve claims the oldest unclaimed job on channel, polling until timeout.
func (s *SQL) Reserve(ctx context.Context, channel string, timeout time.Duration) (Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := s.claim(ctx, channel)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrNoJob) {
			return Job{}, err
		}
		if !time.Now().Before(deadline) {
			return Job{}, ErrNoJob
		}

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *SQL) claim(ctx context.Context, channel string) (Job, error) {
	var claimed NoticeJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job NoticeJob
		err := tx.Where("channel = ? AND reserved_at IS NULL", channel).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoJob
		}
		if err != nil {
			return fmt.Errorf("failed to select notice job: %w", err)
		}

		now := time.Now().UTC()
		res := tx.Model(&NoticeJob{}).
			Where("id = ? AND reserved_at IS NULL", job.ID).
			Update("reserved_at", now)
		if res.Error != nil {
			return fmt.Errorf("failed to reserve notice job: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrNoJob
		}

		claimed = job
		return nil
	})
	if err != nil {
		return Job{}, err
	}

	return Job{ID: claimed.ID, Channel: claimed.Channel, Body: []byte(claimed.Payload)}, nil
}

func (s *SQL) Delete(ctx context.Context, job Job) error {
	if err := s.db.WithContext(ctx).Delete(&NoticeJob{}, "id = ?", job.ID).Error; err != nil {
		return fmt.Errorf("failed to delete notice job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
