package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jainkunal/giza-agents/internal/agent"
	"github.com/jainkunal/giza-agents/internal/observability/alerting"
	xerrors "github.com/jainkunal/giza-agents/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      error
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.TaskRequest) (*agent.TaskResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	f.processed.Add(1)
	return &agent.TaskResult{
		RequestID:   "req-" + req.ID,
		ProofID:     "proof-1",
		Verified:    true,
		OutputShape: req.Shape,
		Output:      req.Input,
	}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	exec := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(exec, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, agent.TaskRequest{Shape: []int{2}, Input: []float64{float64(i), 1}}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(exec.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", exec.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRecordsExecutionResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	exec := &fakeExecutor{}
	processor := NewProcessor(exec, store, nil, NewMemoryQueue(4))

	task := &Task{ID: "run-1", Shape: []int{2}, Input: []float64{1.5, -0.25}, Status: StatusPending, MaxRetries: 3}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := processor.handle(ctx, "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	saved, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", saved.Status)
	}
	if saved.Result == nil || saved.Result.RequestID != "req-run-1" || !saved.Result.Verified {
		t.Fatalf("unexpected result: %+v", saved.Result)
	}
	if saved.Result.Output == "" {
		t.Fatalf("expected serialized output, got empty string")
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	exec := &fakeExecutor{fail: xerrors.New(xerrors.CodeChainFailure, "节点不可用")}
	processor := NewProcessor(exec, store, queue, queue)

	task := &Task{ID: "retry-1", Shape: []int{1}, Input: []float64{1}, Status: StatusPending, MaxRetries: 3}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := processor.handle(ctx, "retry-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	saved, err := store.Get(ctx, "retry-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", saved.Status)
	}
	if saved.ErrorCode != string(xerrors.CodeChainFailure) {
		t.Fatalf("unexpected error code: %s", saved.ErrorCode)
	}

	// 可重试失败应重新入队。
	select {
	case id := <-queue.ch:
		if id != "retry-1" {
			t.Fatalf("unexpected requeued id: %s", id)
		}
	default:
		t.Fatalf("expected task to be requeued")
	}
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *captureDispatcher) Events() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

func TestProcessorDispatchesAlertOnTerminalFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	exec := &fakeExecutor{fail: xerrors.New(xerrors.CodeChainFailure, "节点不可用")}
	dispatcher := &captureDispatcher{}
	processor := NewProcessor(exec, store, queue, queue, WithAlertDispatcher(dispatcher))

	// MaxRetries 为 1 时首次失败即为终态。
	task := &Task{ID: "alert-1", Shape: []int{1}, Input: []float64{1}, Status: StatusPending, MaxRetries: 1, VaultAction: "deposit"}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := processor.handle(ctx, "alert-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	events := dispatcher.Events()
	if len(events) != 1 {
		t.Fatalf("expected one alert, got %d", len(events))
	}
	event := events[0]
	if event.Code != xerrors.CodeChainFailure {
		t.Fatalf("unexpected code: %s", event.Code)
	}
	if event.TaskID != "alert-1" || event.VaultAction != "deposit" {
		t.Fatalf("事件上下文缺失: %+v", event)
	}
	if event.Metadata["stage"] != "terminal" {
		t.Fatalf("unexpected stage: %q", event.Metadata["stage"])
	}
}
