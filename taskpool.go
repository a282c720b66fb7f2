package linebatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var errPoolClosed = errors.New("task pool has been released")

// taskPool runs tasks on a fixed number of workers. At most size+queueCapacity tasks are admitted
// at any time, Submit blocks until a slot frees up.
type taskPool struct {
	pool          *ants.Pool
	admission     *semaphore.Weighted
	queue         chan *poolTask
	size          int
	queueCapacity int
	mu            sync.RWMutex
	closed        bool
	dispatched    chan struct{}
}

type poolTask struct {
	fn     func() (interface{}, error)
	future *futureImpl
}

func newTaskPool(size, queueCapacity int) (*taskPool, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid task pool size:%v", size)
	}
	if queueCapacity < 0 {
		return nil, errors.Errorf("invalid task pool queue capacity:%v", queueCapacity)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, errors.Wrap(err, "create task pool")
	}
	p := &taskPool{
		pool:          pool,
		admission:     semaphore.NewWeighted(int64(size + queueCapacity)),
		queue:         make(chan *poolTask, size+queueCapacity),
		size:          size,
		queueCapacity: queueCapacity,
		dispatched:    make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

// Future get result in future
type Future interface {
	Get() (interface{}, error)
}

type futureImpl struct {
	done chan struct{}
	val  interface{}
	err  error
}

func newFuture() *futureImpl {
	return &futureImpl{done: make(chan struct{})}
}

func (f *futureImpl) complete(val interface{}, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

func (f *futureImpl) Get() (interface{}, error) {
	<-f.done
	return f.val, f.err
}

// dispatch hands admitted tasks to the workers in submission order
func (p *taskPool) dispatch() {
	defer close(p.dispatched)
	for t := range p.queue {
		task := t
		if err := p.pool.Submit(func() { p.run(task) }); err != nil {
			p.admission.Release(1)
			task.future.complete(nil, err)
		}
	}
}

func (p *taskPool) run(t *poolTask) {
	defer p.admission.Release(1)
	defer func() {
		if r := recover(); r != nil {
			logger.Error(context.Background(), "panic in task executing, err:%v, stack:%v", r, string(debug.Stack()))
			t.future.complete(nil, fmt.Errorf("panic:%v", r))
		}
	}()
	val, err := t.fn()
	t.future.complete(val, err)
}

// Submit admits the task, blocking while the pool and its queue are full. The future carries
// ctx.Err() when ctx is done before the task could be admitted.
func (p *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) Future {
	f := newFuture()
	if err := p.admission.Acquire(ctx, 1); err != nil {
		f.complete(nil, err)
		return f
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.admission.Release(1)
		f.complete(nil, errPoolClosed)
		return f
	}
	p.queue <- &poolTask{fn: task, future: f}
	return f
}

// Release stops accepting tasks, tasks already admitted still run
func (p *taskPool) Release() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.dispatched
	p.pool.Release()
}

// Running number of tasks being executed by workers
func (p *taskPool) Running() int {
	return p.pool.Running()
}
