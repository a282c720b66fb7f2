package linebatch

import (
	"sync"
	"time"

	"github.com/chararch/linebatch/status"
)

// JobExecution one run of a job. JobContext is the job-scoped context shared with listeners and steps.
type JobExecution struct {
	JobExecutionId int64
	JobName        string
	JobParams      map[string]interface{}
	JobStatus      status.BatchStatus
	StepExecutions []*StepExecution
	JobContext     *BatchContext
	CreateTime     time.Time
	StartTime      time.Time
	EndTime        time.Time
	FailError      error
	Version        int64
	mu             sync.Mutex
}

func newJobExecution(jobName string, params map[string]interface{}) *JobExecution {
	return &JobExecution{
		JobName:        jobName,
		JobParams:      params,
		JobStatus:      status.STARTING,
		StepExecutions: make([]*StepExecution, 0),
		JobContext:     NewBatchContext(),
		CreateTime:     time.Now(),
	}
}

func (e *JobExecution) AddStepExecution(execution *StepExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StepExecutions = append(e.StepExecutions, execution)
}

// PartitionResults outcome of every partition of the job, in partition order per step
func (e *JobExecution) PartitionResults() []PartitionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]PartitionResult, 0)
	for _, execution := range e.StepExecutions {
		if execution.LineRange != nil {
			results = append(results, execution.Result())
		}
	}
	return results
}

// StepExecution one run of a step, or of one partition of a partitioned step
type StepExecution struct {
	StepExecutionId      int64
	StepName             string
	StepStatus           status.BatchStatus
	StepContext          *BatchContext
	StepExecutionContext *BatchContext
	JobExecution         *JobExecution
	// LineRange lines handled by this execution, nil when the step is not partitioned
	LineRange        *LineRange
	CreateTime       time.Time
	StartTime        time.Time
	EndTime          time.Time
	ReadCount        int64
	WriteCount       int64
	CommitCount      int64
	FilterCount      int64
	ReadSkipCount    int64
	WriteSkipCount   int64
	ProcessSkipCount int64
	RollbackCount    int64
	FailError        error
	LastUpdated      time.Time
	Version          int64
}

func newStepExecution(stepName string, jobExecution *JobExecution) *StepExecution {
	return &StepExecution{
		StepName:             stepName,
		StepStatus:           status.STARTING,
		StepContext:          NewBatchContext(),
		StepExecutionContext: NewBatchContext(),
		JobExecution:         jobExecution,
		CreateTime:           time.Now(),
	}
}

func (execution *StepExecution) finish(err error) {
	execution.EndTime = time.Now()
	switch {
	case err == nil:
		execution.StepStatus = status.COMPLETED
	case IsCode(err, ErrCodeStop):
		execution.StepStatus = status.STOPPED
		execution.FailError = err
	default:
		execution.StepStatus = status.FAILED
		execution.FailError = err
	}
}

func (execution *StepExecution) start() {
	execution.StartTime = time.Now()
	execution.StepStatus = status.STARTED
}

func (execution *StepExecution) deepCopy() *StepExecution {
	return &StepExecution{
		StepName:             execution.StepName,
		StepStatus:           status.STARTING,
		StepContext:          execution.StepContext.DeepCopy(),
		StepExecutionContext: execution.StepExecutionContext.DeepCopy(),
		JobExecution:         execution.JobExecution,
		CreateTime:           time.Now(),
	}
}

// PartitionResult outcome of one partition
type PartitionResult struct {
	ID           string
	Range        LineRange
	Status       status.BatchStatus
	SkippedCount int64
	ReadCount    int64
	WriteCount   int64
	Error        error
}

// Result summary of a partition execution, the zero LineRange is reported for an unpartitioned execution
func (execution *StepExecution) Result() PartitionResult {
	result := PartitionResult{
		Status:       execution.StepStatus,
		SkippedCount: execution.ReadSkipCount,
		ReadCount:    execution.ReadCount,
		WriteCount:   execution.WriteCount,
		Error:        execution.FailError,
	}
	if execution.LineRange != nil {
		result.ID = execution.LineRange.ID
		result.Range = *execution.LineRange
	}
	return result
}
