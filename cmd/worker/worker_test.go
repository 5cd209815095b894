package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sthembisoo/airbrake-notifier/queue"
	"github.com/sthembisoo/airbrake-notifier/transport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestQueue(t *testing.T) *queue.SQL {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	q, err := queue.NewSQL(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func newTestWorker(q queue.Consumer) *Worker {
	log := logrus.New()
	log.Out = io.Discard
	return &Worker{
		Consumer:       q,
		Transport:      transport.NewHTTPTransport(time.Second),
		Channel:        "airbrake",
		ReserveTimeout: 0,
		Log:            logrus.NewEntry(log),
	}
}

func enqueue(t *testing.T, q *queue.SQL, url, body string) {
	t.Helper()
	tr := transport.NewQueueTransport(q, "airbrake")
	_, err := tr.Deliver(context.Background(), transport.Request{URL: url, Headers: transport.NoticeHeaders(), Body: body})
	require.NoError(t, err)
}

func TestWorkerDeliversQueuedNotices(t *testing.T) {
	var hits int32
	var lastBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := newTestQueue(t)
	enqueue(t, q, server.URL, "<notice>one</notice>")
	enqueue(t, q, server.URL, "<notice>two</notice>")

	err := newTestWorker(q).Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Contains(t, lastBody.Load(), "<notice>")

	_, err = q.Reserve(context.Background(), "airbrake", 0)
	assert.ErrorIs(t, err, queue.ErrNoJob)
}

func TestWorkerDeletesFailedNotices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q := newTestQueue(t)
	enqueue(t, q, server.URL, "<notice/>")

	processed, err := newTestWorker(q).ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = q.Reserve(context.Background(), "airbrake", 0)
	assert.ErrorIs(t, err, queue.ErrNoJob, "no retry: a failed notice is dropped")
}

func TestWorkerSkipsUndecodableJobs(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Put(context.Background(), "airbrake", []byte("garbage")))

	processed, err := newTestWorker(q).ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestWorkerEmptyQueue(t *testing.T) {
	processed, err := newTestWorker(newTestQueue(t)).ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, newTestWorker(newTestQueue(t)).Run(ctx, false))
}
