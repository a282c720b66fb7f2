package linebatch

import (
	"context"
	"sync"
	"time"

	"github.com/chararch/linebatch/status"
	"github.com/chararch/linebatch/util"
	"github.com/pkg/errors"
)

var (
	registryMu  sync.RWMutex
	jobRegistry = make(map[string]Job)
)

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	runningMu   sync.Mutex
	runningJobs = make(map[int64]*runningJob)
)

// Register register job to linebatch
func Register(job Job) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := jobRegistry[job.Name()]; ok {
		return errors.Errorf("job with name:%v has already been registered", job.Name())
	}
	jobRegistry[job.Name()] = job
	return nil
}

// Unregister unregister job from linebatch
func Unregister(job Job) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(jobRegistry, job.Name())
}

func findJob(jobName string) (Job, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	job, ok := jobRegistry[jobName]
	return job, ok
}

// Start runs the job with the JSON params and returns when it finished. The error reports failures
// to launch the job, the outcome is the JobStatus of FindJobExecution.
func Start(ctx context.Context, jobName string, params string) (int64, error) {
	return doStart(ctx, jobName, params, false)
}

// StartAsync starts the job and returns its execution id right away, the job is not cancelled with ctx
func StartAsync(ctx context.Context, jobName string, params string) (int64, error) {
	return doStart(ctx, jobName, params, true)
}

func doStart(ctx context.Context, jobName string, params string, async bool) (int64, error) {
	job, ok := findJob(jobName)
	if !ok {
		logger.Error(ctx, "can not find job with name:%v", jobName)
		return -1, errors.Errorf("can not find job with name:%v", jobName)
	}
	jobParams, err := parseJobParams(params)
	if err != nil {
		logger.Error(ctx, "parse job params error, jobName:%v, params:%v, err:%v", jobName, params, err)
		return -1, errors.Wrapf(err, "parse params of job:%v", jobName)
	}
	if err = checkNotRunning(ctx, jobName, jobParams); err != nil {
		return -1, err
	}
	execution := newJobExecution(jobName, jobParams)
	if err := saveJobExecution(ctx, execution); err != nil {
		logger.Error(ctx, "save job execution failed, jobName:%v, err:%v", jobName, err)
		return -1, err
	}
	parent := ctx
	if async {
		parent = context.WithoutCancel(ctx)
	}
	runCtx, cancel := context.WithCancel(parent)
	running := &runningJob{cancel: cancel, done: make(chan struct{})}
	runningMu.Lock()
	runningJobs[execution.JobExecutionId] = running
	runningMu.Unlock()

	future := currentJobPool().Submit(ctx, func() (interface{}, error) {
		er := job.Start(runCtx, execution)
		if er != nil {
			return nil, er
		}
		return execution.JobStatus, nil
	})
	logger.Info(ctx, "job started, jobName:%v, jobExecutionId:%v", jobName, execution.JobExecutionId)
	finish := func() error {
		_, er := future.Get()
		if er != nil && execution.JobStatus == status.STARTING {
			// never ran, e.g. ctx done while waiting for a free job slot
			execution.JobStatus = status.FAILED
			execution.FailError = er
			execution.EndTime = time.Now()
			if e := saveJobExecution(ctx, execution); e != nil {
				logger.Error(ctx, "save job execution failed, jobName:%v, jobExecutionId:%v, err:%v", jobName, execution.JobExecutionId, e)
			}
		}
		cancel()
		runningMu.Lock()
		delete(runningJobs, execution.JobExecutionId)
		runningMu.Unlock()
		close(running.done)
		return er
	}
	if async {
		go finish()
		return execution.JobExecutionId, nil
	}
	return execution.JobExecutionId, finish()
}

func checkNotRunning(ctx context.Context, jobName string, jobParams map[string]interface{}) error {
	executions, err := repo.FindRunningJobExecutions(ctx, jobName)
	if err != nil {
		logger.Error(ctx, "find running job executions error, jobName:%v, err:%v", jobName, err)
		return err
	}
	key, _, e := jobKey(jobName, jobParams)
	if e != nil {
		return errors.Wrapf(e, "serialize params of job:%v", jobName)
	}
	for _, execution := range executions {
		if runningKey, _, _ := jobKey(jobName, execution.JobParams); runningKey == key {
			logger.Error(ctx, "the job is in executing with the same params, jobName:%v, jobExecutionId:%v", jobName, execution.JobExecutionId)
			return errors.Errorf("the job is in executing with the same params, jobName:%v, jobExecutionId:%v", jobName, execution.JobExecutionId)
		}
	}
	return nil
}

func parseJobParams(params string) (map[string]interface{}, error) {
	ret := make(map[string]interface{})
	if len(params) == 0 {
		return ret, nil
	}
	if err := util.ParseJson(params, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// Stop asks a running job execution to stop, the steps observe it at their next chunk or read
func Stop(ctx context.Context, jobExecutionId int64) error {
	execution, err := repo.FindJobExecution(ctx, jobExecutionId)
	if err != nil {
		logger.Error(ctx, "find JobExecution by jobExecutionId error, jobExecutionId:%v, err:%v", jobExecutionId, err)
		return err
	}
	if execution == nil {
		logger.Error(ctx, "can not find job execution with execution id:%v", jobExecutionId)
		return errors.Errorf("can not find job execution with execution id:%v", jobExecutionId)
	}
	job, ok := findJob(execution.JobName)
	if !ok {
		logger.Error(ctx, "can not find job with name:%v", execution.JobName)
		return errors.Errorf("can not find job with name:%v", execution.JobName)
	}
	if execution.JobStatus.IsTerminal() {
		return errors.Errorf("job execution:%v is not running, status:%v", jobExecutionId, execution.JobStatus)
	}
	logger.Info(ctx, "job will be stopped, jobName:%v, jobExecutionId:%v", execution.JobName, jobExecutionId)
	runningMu.Lock()
	running := runningJobs[jobExecutionId]
	runningMu.Unlock()
	if running != nil {
		running.cancel()
		return nil
	}
	// started by another process, it sees the STOPPING status before its next step
	if err := job.Stop(ctx, execution); err != nil {
		return err
	}
	return nil
}

// Wait blocks until the job execution finished or ctx is done
func Wait(ctx context.Context, jobExecutionId int64) (*JobExecution, error) {
	runningMu.Lock()
	running := runningJobs[jobExecutionId]
	runningMu.Unlock()
	if running != nil {
		select {
		case <-running.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return FindJobExecution(ctx, jobExecutionId)
}

// FindJobExecution job execution with its step executions
func FindJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, error) {
	execution, err := repo.FindJobExecution(ctx, jobExecutionId)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		return nil, errors.Errorf("can not find job execution with execution id:%v", jobExecutionId)
	}
	if len(execution.StepExecutions) == 0 {
		stepExecutions, err := repo.FindStepExecutions(ctx, jobExecutionId)
		if err != nil {
			return nil, err
		}
		for _, stepExecution := range stepExecutions {
			stepExecution.JobExecution = execution
			execution.AddStepExecution(stepExecution)
		}
	}
	return execution, nil
}
