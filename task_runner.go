package ilm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner bounds the number of concurrently running background tasks,
// such as index_deleter goroutines spawned by delete_index.
type TaskRunner struct {
	maxThreadCount int
	eg             *errgroup.Group
	limiterChan    chan bool
	context        context.Context
}

// NewTaskRunner creates a task runner allowing at most maxThreadCount
// concurrently running goroutines.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		maxThreadCount: maxThreadCount,
		limiterChan:    make(chan bool, maxThreadCount),
		eg:             eg,
		context:        ctx2,
	}
}

// Context returns the errgroup-derived context.
func (tr *TaskRunner) Context() context.Context {
	return tr.context
}

// Go spins up a goroutine to run task, blocking until a slot is free if the
// runner is at capacity.
func (tr *TaskRunner) Go(task func() error) {
	t := func() error {
		err := task()
		<-tr.limiterChan
		return err
	}
	tr.limiterChan <- true
	tr.eg.Go(t)
}

// Wait blocks until every spawned task has completed, returning the first
// non-nil error.
func (tr *TaskRunner) Wait() error {
	defer close(tr.limiterChan)
	return tr.eg.Wait()
}
