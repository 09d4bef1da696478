// Package async provides a bounded worker pool for fanning request-scoped
// work across cores with cooperative cancellation.
package async

import (
	"context"
	"runtime"
	"sync"
)

// Task is one unit of work.
type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

// Result pairs a task's output with its name.
type Result struct {
	Name string
	Data any
	Err  error
}

// Pool runs tasks over a fixed number of workers.
type Pool struct {
	workerCount int
}

// NewPool creates a pool; a non-positive count defaults to GOMAXPROCS.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs all tasks and returns their results in completion order. On
// context cancellation it returns ctx.Err() and discards any partial
// results; callers must not report half-evaluated output.
func (p *Pool) Execute(ctx context.Context, tasks []Task) ([]Result, error) {
	taskCh := make(chan Task)
	resultCh := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case task, ok := <-taskCh:
					if !ok {
						return
					}
					data, err := task.Execute(ctx)
					select {
					case resultCh <- Result{Name: task.Name, Data: data, Err: err}:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]Result, 0, len(tasks))
	for i := 0; i < len(tasks); i++ {
		select {
		case res := <-resultCh:
			results = append(results, res)
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	wg.Wait()
	return results, nil
}
