package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
	"github.com/evidchain/ai-analysis-service/internal/processor"
)

const testAnalysisID = "3f1f2b4a-6f0e-4d5c-9a3b-2e1d0c9b8a7f"

// fakeAcker records the ack/nack decision taken for a delivery.
type fakeAcker struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// fakeLifecycle scripts orchestrator responses and records updates.
type fakeLifecycle struct {
	mu      sync.Mutex
	job     *domain.Job
	err     error
	updates []orchestrator.StatusUpdate
}

func (l *fakeLifecycle) UpdateStatus(ctx context.Context, id string, upd orchestrator.StatusUpdate) (*domain.Job, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	l.updates = append(l.updates, upd)

	job := l.job
	if job == nil {
		job = &domain.Job{ID: id, MediaType: domain.MediaTypeImage, Status: domain.StatusPending}
		l.job = job
	}
	if job.Status.Terminal() {
		return job.Clone(), false, nil
	}
	if upd.Status != job.Status && !job.Status.CanTransition(upd.Status) {
		return job.Clone(), false, nil
	}
	job.Status = upd.Status
	if upd.Progress > job.Progress {
		job.Progress = upd.Progress
	}
	if upd.Status == domain.StatusCompleted {
		job.Result = upd.Result
		job.Progress = 100
	}
	if upd.ErrorMessage != "" {
		job.ErrorMessage = upd.ErrorMessage
	}
	return job.Clone(), true, nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []*domain.Job
	err       error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, job *domain.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, job)
	return nil
}

func testWorker(lc *fakeLifecycle, dl *fakeDeliverer) *Worker {
	return New(&Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Lifecycle:  lc,
		Deliverer:  dl,
		Processors: processor.All(&processor.Config{}),
	})
}

func envelope(t *testing.T, acker *fakeAcker, mt domain.MediaType) *taskEnvelope {
	t.Helper()
	task := &domain.TaskMessage{
		AnalysisID:  testAnalysisID,
		EvidenceID:  "ev-1",
		MediaType:   mt,
		FilePath:    "/evidence/sample.bin",
		Priority:    domain.PriorityNormal,
		SubmittedAt: time.Now(),
	}
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return &taskEnvelope{
		task:     task,
		delivery: amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: body},
	}
}

func TestParseTask(t *testing.T) {
	valid := []byte(`{"analysis_id":"` + testAnalysisID + `","evidence_id":"ev-1","media_type":"image","file_path":"/f"}`)
	task, err := parseTask(valid)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaTypeImage, task.MediaType)

	_, err = parseTask([]byte(`{not json`))
	assert.Error(t, err)

	_, err = parseTask([]byte(`{"analysis_id":"not-a-uuid","media_type":"image"}`))
	assert.Error(t, err)

	_, err = parseTask([]byte(`{"analysis_id":"` + testAnalysisID + `","media_type":"hologram"}`))
	assert.Error(t, err)
}

func TestHandleTaskCompletesAndDelivers(t *testing.T) {
	lc := &fakeLifecycle{}
	dl := &fakeDeliverer{}
	acker := &fakeAcker{}
	w := testWorker(lc, dl)

	w.handleTask(context.Background(), "w-0", envelope(t, acker, domain.MediaTypeImage))

	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
	require.NotNil(t, lc.job)
	assert.Equal(t, domain.StatusCompleted, lc.job.Status)
	assert.Equal(t, 100, lc.job.Progress)
	require.Len(t, dl.delivered, 1)
	assert.NotEmpty(t, dl.delivered[0].Result)
}

func TestHandleTaskReportsProgress(t *testing.T) {
	lc := &fakeLifecycle{}
	w := testWorker(lc, &fakeDeliverer{})

	w.handleTask(context.Background(), "w-0", envelope(t, &fakeAcker{}, domain.MediaTypeVideo))

	// Claim, at least one progress report, completion.
	require.GreaterOrEqual(t, len(lc.updates), 3)
	assert.Equal(t, domain.StatusProcessing, lc.updates[0].Status)
	assert.Equal(t, domain.StatusCompleted, lc.updates[len(lc.updates)-1].Status)
}

func TestHandleTaskSkipsTerminalAnalysis(t *testing.T) {
	lc := &fakeLifecycle{job: &domain.Job{ID: testAnalysisID, Status: domain.StatusCancelled}}
	dl := &fakeDeliverer{}
	acker := &fakeAcker{}
	w := testWorker(lc, dl)

	w.handleTask(context.Background(), "w-0", envelope(t, acker, domain.MediaTypeImage))

	assert.True(t, acker.acked, "terminal task is acked, not requeued")
	assert.Empty(t, dl.delivered)
	assert.Equal(t, domain.StatusCancelled, lc.job.Status)
}

func TestHandleTaskUnknownAnalysisDeadLetters(t *testing.T) {
	lc := &fakeLifecycle{err: domain.ErrNotFound}
	acker := &fakeAcker{}
	w := testWorker(lc, &fakeDeliverer{})

	w.handleTask(context.Background(), "w-0", envelope(t, acker, domain.MediaTypeImage))

	assert.True(t, acker.nacked)
	assert.False(t, acker.requeue, "unknown analysis must go to the DLQ, not cycle")
}

func TestHandleTaskTransientClaimFailureRequeues(t *testing.T) {
	lc := &fakeLifecycle{err: errors.New("connection refused")}
	acker := &fakeAcker{}
	w := testWorker(lc, &fakeDeliverer{})

	w.handleTask(context.Background(), "w-0", envelope(t, acker, domain.MediaTypeImage))

	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
}

func TestHandleTaskRecordedFailureIsAcked(t *testing.T) {
	lc := &fakeLifecycle{}
	acker := &fakeAcker{}
	w := New(&Config{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Lifecycle: lc,
		Deliverer: &fakeDeliverer{},
		// No processors registered: every task fails and is recorded.
		Processors: map[domain.MediaType]processor.Processor{},
	})

	w.handleTask(context.Background(), "w-0", envelope(t, acker, domain.MediaTypeImage))

	assert.True(t, acker.acked, "a recorded failure is a handled outcome")
	assert.Equal(t, domain.StatusFailed, lc.job.Status)
	assert.Contains(t, lc.job.ErrorMessage, "no processor")
}

func TestHandleTaskDeliveryFailureStillAcks(t *testing.T) {
	lc := &fakeLifecycle{}
	acker := &fakeAcker{}
	w := testWorker(lc, &fakeDeliverer{err: errors.New("evidence service down")})

	w.handleTask(context.Background(), "w-0", envelope(t, acker, domain.MediaTypeDocument))

	assert.True(t, acker.acked)
	assert.Equal(t, domain.StatusCompleted, lc.job.Status, "result stays pollable even when delivery fails")
}
