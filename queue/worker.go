package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// Processor runs the ingestion state machine for one file.
type Processor interface {
	ProcessFile(ctx context.Context, fileID, taskID string, records []core.Record) error
}

// RecordSource loads the parsed events of the file a task refers to.
type RecordSource interface {
	Records(ctx context.Context, task *Task) ([]core.Record, error)
}

const dequeueWait = 2 * time.Second

// Pool runs a fixed number of workers pulling tasks off the queue and
// driving them through the processor. Workers survive panics in task
// handling; a panicked task is retired as failed, not retried forever.
type Pool struct {
	queue     *TaskQueue
	source    RecordSource
	processor Processor
	workers   int
	logger    *zap.SugaredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool wires a worker pool. workers defaults to 4 when non-positive.
func NewPool(queue *TaskQueue, source RecordSource, processor Processor, workers int, logger *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:     queue,
		source:    source,
		processor: processor,
		workers:   workers,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Infow("Worker pool started", "workers", p.workers)
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	name := fmt.Sprintf("queue-worker-%d", id)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		task, err := p.queue.Dequeue(context.Background(), dequeueWait)
		if err != nil {
			p.logger.Errorw("Dequeue failed", "worker", name, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}
		p.handle(name, task)
	}
}

// handle runs one task to completion and always retires it, even when
// processing panicked.
func (p *Pool) handle(worker string, task *Task) {
	ctx := context.Background()
	status := "completed"

	if err := p.process(ctx, worker, task); err != nil {
		status = "failed"
		p.logger.Errorw("Task failed",
			"worker", worker,
			"task_id", task.ID,
			"file_id", task.FileID,
			"error", err)
	}

	if err := p.queue.Finish(ctx, task.ID, status); err != nil {
		p.logger.Errorw("Failed to retire task", "task_id", task.ID, "error", err)
	}
}

func (p *Pool) process(ctx context.Context, worker string, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			goroutine.LogPanic(worker, r, p.logger)
			err = fmt.Errorf("panic while processing task %s: %v", task.ID, r)
		}
	}()

	records, err := p.source.Records(ctx, task)
	if err != nil {
		return fmt.Errorf("load records for file %s: %w", task.FileID, err)
	}
	return p.processor.ProcessFile(ctx, task.FileID, task.ID, records)
}
