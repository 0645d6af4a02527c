package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/serat-auto/backoffice/internal/jobs"
	"github.com/serat-auto/backoffice/internal/shared"
)

type stubSweeper struct {
	calls   []time.Time
	updated int
	err     error
}

func (s *stubSweeper) SweepOverdue(_ context.Context, now time.Time) (int, error) {
	s.calls = append(s.calls, now)
	return s.updated, s.err
}

func newSweepJob(t *testing.T, sweeper Sweeper, now time.Time) (*OverdueSweepJob, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	job := NewOverdueSweepJob(sweeper, nil, jobmetrics.NewMetrics(reg))
	job.clock = func() time.Time { return now }
	return job, reg
}

func TestNewOverdueSweepTask(t *testing.T) {
	task, err := NewOverdueSweepTask(OverdueSweepPayload{})
	require.NoError(t, err)
	assert.Equal(t, TaskOverdueSweep, task.Type())

	var payload OverdueSweepPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "cron", payload.TriggeredBy)
}

func TestOverdueSweepJobUsesWorkerClock(t *testing.T) {
	now := time.Date(2025, 3, 20, 6, 0, 0, 0, time.UTC)
	sweeper := &stubSweeper{updated: 3}
	job, _ := newSweepJob(t, sweeper, now)

	task, err := NewOverdueSweepTask(OverdueSweepPayload{TriggeredBy: "cron"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, sweeper.calls, 1)
	assert.True(t, sweeper.calls[0].Equal(now))
	assert.InDelta(t, 1, testutil.ToFloat64(job.Metrics.Runs(jobOverdueSweep, "success")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(job.Metrics.Items(jobOverdueSweep)), 0)
}

func TestOverdueSweepJobReportsFailure(t *testing.T) {
	sweeper := &stubSweeper{updated: 1, err: errors.New("db down")}
	job, _ := newSweepJob(t, sweeper, time.Now().UTC())

	err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueSweep, nil))
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(job.Metrics.Failures(jobOverdueSweep)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(job.Metrics.Items(jobOverdueSweep)), 0)
}

func TestOverdueSweepJobSkipsMalformedPayload(t *testing.T) {
	job, _ := newSweepJob(t, &stubSweeper{}, time.Now().UTC())
	err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unset *OverdueSweepJob
	assert.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskOverdueSweep, nil)))
}

type stubPurger struct {
	retention time.Duration
	removed   int64
}

func (s *stubPurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.removed, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	purger := &stubPurger{removed: 12}
	job := NewIdempotencyCleanupJob(purger, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	assert.Equal(t, defaultKeyRetention, purger.retention)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, purger.retention)
	assert.InDelta(t, 24, testutil.ToFloat64(job.Metrics.Items(jobIdempotencyCleanup)), 0)
}

type stubEnqueuer struct {
	payloads []OverdueSweepPayload
	err      error
}

func (s *stubEnqueuer) EnqueueOverdueSweep(_ context.Context, payload OverdueSweepPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.payloads = append(s.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

type stubInspector struct{ pending int }

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: s.pending}, nil
}

func jobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{ID: 1, Email: "admin@example.com", Role: shared.RoleAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Route("/jobs", h.MountRoutes)
	return r
}

func TestHandlerQueuesSweep(t *testing.T) {
	enq := &stubEnqueuer{}
	router := jobsRouter(NewHandler(stubInspector{pending: 2}, enq, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/installments/sweep", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, "user:admin@example.com", enq.payloads[0].TriggeredBy)
	assert.Contains(t, rec.Body.String(), "task-1")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":2}`, rec.Body.String())
}

func TestHandlerDuplicateSweepConflicts(t *testing.T) {
	router := jobsRouter(NewHandler(nil, &stubEnqueuer{err: shared.ErrConflict}, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/installments/sweep", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
