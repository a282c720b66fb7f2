package linebatch

import (
	"context"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/chararch/linebatch/status"
)

//Job job interface used by linebatch
type Job interface {
	Name() string
	Start(ctx context.Context, execution *JobExecution) BatchError
	Stop(ctx context.Context, execution *JobExecution) BatchError
	GetSteps() []Step
}

type simpleJob struct {
	name      string
	steps     []Step
	listeners []JobListener
}

func newSimpleJob(name string, steps []Step, listeners []JobListener) *simpleJob {
	return &simpleJob{
		name:      name,
		steps:     steps,
		listeners: listeners,
	}
}

func (job *simpleJob) Name() string {
	return job.name
}

// Start runs the BeforeJob hooks, the steps in order until one does not complete, then the AfterJob
// hooks. AfterJob always runs once the final status is known, whatever happened before.
func (job *simpleJob) Start(ctx context.Context, execution *JobExecution) (err BatchError) {
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic in job executing, jobName:%v, jobExecutionId:%v, err:%v, stack:%v", job.name, execution.JobExecutionId, er, string(debug.Stack()))
			execution.JobStatus = status.FAILED
			execution.FailError = NewBatchError(ErrCodeGeneral, "panic in job execution:%v", er)
			execution.EndTime = time.Now()
			job.afterJob(ctx, execution)
		}
		if e := saveJobExecution(ctx, execution); e != nil {
			logger.Error(ctx, "save job execution failed, jobName:%v, jobExecutionId:%v, err:%v", job.name, execution.JobExecutionId, e)
			if err == nil {
				err = e
			}
		}
	}()
	logger.Info(ctx, "start running job, jobName:%v, jobExecutionId:%v", job.name, execution.JobExecutionId)
	execution.StartTime = time.Now()
	jobStatus := status.COMPLETED
	var jobErr error
	for _, listener := range job.listeners {
		if e := listener.BeforeJob(execution); e != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%+v, listener:%v, err:%v", job.name, execution.JobExecutionId, reflect.TypeOf(listener).String(), e)
			jobStatus, jobErr = status.FAILED, e
			break
		}
	}
	if jobStatus == status.COMPLETED {
		execution.JobStatus = status.STARTED
		if e := saveJobExecution(ctx, execution); e != nil {
			logger.Error(ctx, "save job execution failed, jobName:%v, jobExecutionId:%v, err:%v", job.name, execution.JobExecutionId, e)
			jobStatus, jobErr = status.FAILED, e
		}
	}
	if jobStatus == status.COMPLETED {
		jobStatus, jobErr = job.runSteps(ctx, execution)
	}
	execution.JobStatus = jobStatus
	execution.FailError = jobErr
	execution.EndTime = time.Now()
	job.afterJob(ctx, execution)
	logger.Info(ctx, "finish job execution, jobName:%v, jobExecutionId:%v, jobStatus:%v, elapsed:%v", job.name, execution.JobExecutionId, execution.JobStatus, execution.EndTime.Sub(execution.StartTime))
	return nil
}

func (job *simpleJob) runSteps(ctx context.Context, execution *JobExecution) (status.BatchStatus, error) {
	for _, step := range job.steps {
		if ctx.Err() != nil || isJobStopping(ctx, execution) {
			logger.Warn(ctx, "job stopped before step, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, step.Name())
			return status.STOPPED, NewBatchError(ErrCodeStop, "job:%v stopped before step:%v", job.name, step.Name())
		}
		stepExecution, err := execStep(ctx, step, execution)
		if err != nil {
			logger.Error(ctx, "execute step failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.Name(), err)
			if err.Code() == ErrCodeStop {
				return status.STOPPED, err
			}
			return status.FAILED, err
		}
		if stepExecution.StepStatus != status.COMPLETED {
			return status.COMPLETED.And(stepExecution.StepStatus), stepExecution.FailError
		}
	}
	return status.COMPLETED, nil
}

func (job *simpleJob) afterJob(ctx context.Context, execution *JobExecution) {
	for _, listener := range job.listeners {
		if err := listener.AfterJob(execution); err != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%+v, listener:%v, err:%v", job.name, execution.JobExecutionId, reflect.TypeOf(listener).String(), err)
			if execution.JobStatus == status.COMPLETED {
				execution.JobStatus = status.FAILED
				execution.FailError = err
			}
		}
	}
}

func execStep(ctx context.Context, step Step, execution *JobExecution) (*StepExecution, BatchError) {
	stepExecution := newStepExecution(step.Name(), execution)
	if e := saveStepExecution(ctx, stepExecution); e != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.Name(), e)
		return nil, e
	}
	execution.AddStepExecution(stepExecution)
	err := step.Exec(ctx, stepExecution)
	if err != nil && !stepExecution.StepStatus.IsTerminal() {
		stepExecution.finish(err)
		if e := saveStepExecution(ctx, stepExecution); e != nil {
			logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.Name(), e)
		}
	}
	if stepExecution.StepStatus != status.COMPLETED {
		logger.Error(ctx, "step executing failed, jobExecutionId:%v, stepName:%v, stepStatus:%v, err:%v", execution.JobExecutionId, step.Name(), stepExecution.StepStatus, stepExecution.FailError)
	}
	return stepExecution, nil
}

func (job *simpleJob) Stop(ctx context.Context, execution *JobExecution) BatchError {
	logger.Info(ctx, "stop job, jobName:%v, jobExecutionId:%v, jobStatus:%v", job.name, execution.JobExecutionId, execution.JobStatus)
	if execution.JobStatus.IsTerminal() {
		return nil
	}
	execution.JobStatus = status.STOPPING
	return saveJobExecution(ctx, execution)
}

func (job *simpleJob) GetSteps() []Step {
	return job.steps
}
