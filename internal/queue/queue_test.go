package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewWithClient(rdb, Options{QueueName: "test:queue", KeepResult: time.Hour}, NopMetrics())
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueAndStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, FuncIndividualVerification, map[string]interface{}{
		"verification_id": "v1",
		"user_id":         "u1",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	info, err := q.JobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if info.Status != JobQueued {
		t.Errorf("status = %s, want queued", info.Status)
	}
	if info.EnqueueTime == nil {
		t.Error("enqueue_time not recorded")
	}

	qi, err := q.QueueInfo(ctx)
	if err != nil {
		t.Fatalf("QueueInfo: %v", err)
	}
	if qi.QueuedJobs != 1 {
		t.Errorf("queued jobs = %d, want 1", qi.QueuedJobs)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	q := newTestQueue(t)

	info, err := q.JobStatus(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if info.Status != JobNotFound {
		t.Errorf("status = %s, want not_found", info.Status)
	}
}

func TestWorkerRunsJobFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var order []string
	w := NewWorker(q, 1, time.Minute)
	w.Register("echo", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		order = append(order, args["n"].(string))
		return map[string]interface{}{"ok": true, "n": args["n"]}, nil
	})

	first, err := q.Enqueue(ctx, "echo", map[string]interface{}{"n": "1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, "echo", map[string]interface{}{"n": "2"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		ran, err := w.RunOne(ctx, time.Second)
		if err != nil {
			t.Fatalf("RunOne: %v", err)
		}
		if !ran {
			t.Fatal("expected a job to run")
		}
	}

	if len(order) != 2 || order[0] != "1" || order[1] != "2" {
		t.Errorf("jobs did not run in FIFO order: %v", order)
	}

	info, err := q.JobStatus(ctx, first)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if info.Status != JobComplete {
		t.Errorf("status = %s, want complete", info.Status)
	}
	if info.StartTime == nil || info.FinishTime == nil {
		t.Error("start/finish times not recorded")
	}
	result, ok := info.Result.(map[string]interface{})
	if !ok || result["n"] != "1" {
		t.Errorf("result not retained: %v", info.Result)
	}
}

func TestCrashedWorkerJobIsRedelivered(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, "echo", map[string]interface{}{"n": "1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := q.Dequeue(ctx, time.Second)
	if err != nil || job == nil {
		t.Fatalf("Dequeue: %v %v", job, err)
	}

	// The worker dies here without acknowledging. The payload must
	// survive on the in-progress list and come back intact.
	n, err := q.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}
	info, err := q.JobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if info.Status != JobQueued {
		t.Errorf("status after recovery = %s, want queued", info.Status)
	}

	again, err := q.Dequeue(ctx, time.Second)
	if err != nil || again == nil {
		t.Fatalf("redelivery Dequeue: %v %v", again, err)
	}
	if again.ID != jobID || again.Function != "echo" {
		t.Errorf("redelivered job = %+v", again)
	}
	if again.Args["n"] != "1" {
		t.Errorf("redelivered args = %v", again.Args)
	}
}

func TestFinishedJobLeavesNoBackup(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, 1, time.Minute)
	w.Register("echo", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})

	if _, err := q.Enqueue(ctx, "echo", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.RunOne(ctx, time.Second); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	n, err := q.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if n != 0 {
		t.Errorf("acknowledged job re-enqueued %d times", n)
	}
}

func TestWorkerRecordsHandlerFailure(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, 1, time.Minute)
	w.Register("boom", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, errors.New("provider unreachable")
	})

	jobID, err := q.Enqueue(ctx, "boom", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.RunOne(ctx, time.Second); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	info, _ := q.JobStatus(ctx, jobID)
	if info.Status != JobFailed {
		t.Errorf("status = %s, want failed", info.Status)
	}
}

func TestAbortBeforeStart(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	called := false
	w := NewWorker(q, 1, time.Minute)
	w.Register("never", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		called = true
		return nil, nil
	})

	jobID, err := q.Enqueue(ctx, "never", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Abort(ctx, jobID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := w.RunOne(ctx, time.Second); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	if called {
		t.Error("aborted job handler must not run")
	}
	info, _ := q.JobStatus(ctx, jobID)
	if info.Status != JobFailed {
		t.Errorf("status = %s, want failed", info.Status)
	}
}

func TestUnknownFunctionFailsJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, 1, time.Minute)
	jobID, err := q.Enqueue(ctx, "not_registered", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.RunOne(ctx, time.Second); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	info, _ := q.JobStatus(ctx, jobID)
	if info.Status != JobFailed {
		t.Errorf("status = %s, want failed", info.Status)
	}
}
