package linebatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chararch/linebatch/status"
)

// JobRepository stores job and step executions
type JobRepository interface {
	SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError
	SaveStepExecution(ctx context.Context, execution *StepExecution) BatchError
	FindJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError)
	FindStepExecutions(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError)
	// FindRunningJobExecutions executions of the job not yet in a terminal status
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*JobExecution, BatchError)
}

// memoryRepository keeps executions of the current process
type memoryRepository struct {
	mu             sync.RWMutex
	lastId         int64
	jobExecutions  map[int64]*JobExecution
	stepExecutions map[int64][]*StepExecution
}

// NewMemoryRepository JobRepository that keeps executions in memory
func NewMemoryRepository() JobRepository {
	return &memoryRepository{
		jobExecutions:  make(map[int64]*JobExecution),
		stepExecutions: make(map[int64][]*StepExecution),
	}
}

func (r *memoryRepository) nextId() int64 {
	r.lastId++
	return r.lastId
}

func (r *memoryRepository) SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if execution.JobExecutionId == 0 {
		execution.JobExecutionId = r.nextId()
	}
	execution.Version++
	r.jobExecutions[execution.JobExecutionId] = execution
	return nil
}

func (r *memoryRepository) SaveStepExecution(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	execution.LastUpdated = time.Now()
	execution.Version++
	if execution.StepExecutionId != 0 {
		return nil
	}
	execution.StepExecutionId = r.nextId()
	jobExecutionId := execution.JobExecution.JobExecutionId
	r.stepExecutions[jobExecutionId] = append(r.stepExecutions[jobExecutionId], execution)
	return nil
}

func (r *memoryRepository) FindJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobExecutions[jobExecutionId], nil
}

func (r *memoryRepository) FindStepExecutions(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*StepExecution, len(r.stepExecutions[jobExecutionId]))
	copy(result, r.stepExecutions[jobExecutionId])
	return result, nil
}

func (r *memoryRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*JobExecution, BatchError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*JobExecution, 0)
	for _, execution := range r.jobExecutions {
		if execution.JobName == jobName && execution.JobStatus.IsRunning() {
			result = append(result, execution)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].JobExecutionId < result[j].JobExecutionId
	})
	return result, nil
}

func saveJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	return retrySave(ctx, func() BatchError {
		return repo.SaveJobExecution(ctx, execution)
	})
}

func saveStepExecution(ctx context.Context, execution *StepExecution) BatchError {
	return retrySave(ctx, func() BatchError {
		return repo.SaveStepExecution(ctx, execution)
	})
}

// retrySave retries saves failing with a recoverable error
func retrySave(ctx context.Context, save func() BatchError) (err BatchError) {
	for i := 0; i < 3; i++ {
		err = save()
		if err != nil && (err.Code() == ErrCodeDbFail || err.Code() == ErrCodeConcurrency) {
			logger.Warn(ctx, "save execution failed and retry for recoverable err, times:%v, err:%v", i+1, err)
			continue
		}
		break
	}
	return err
}

// isJobStopping reports whether a stop of the job execution was recorded in the repository
func isJobStopping(ctx context.Context, execution *JobExecution) bool {
	stored, err := repo.FindJobExecution(ctx, execution.JobExecutionId)
	if err != nil || stored == nil {
		return false
	}
	return stored.JobStatus == status.STOPPING
}
