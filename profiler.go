package linebatch

import (
	"context"
	"time"
)

const (
	// JobStartTimeKey JobContext key of the time the job started
	JobStartTimeKey = "linebatch.profiler.start"
	// JobElapsedKey JobContext key of the job duration, set after the job finished
	JobElapsedKey = "linebatch.profiler.elapsed"
)

// JobProfiler logs when a job starts and ends, how long it took and the outcome of every partition
type JobProfiler struct {
}

func (p *JobProfiler) BeforeJob(execution *JobExecution) BatchError {
	execution.JobContext.Put(JobStartTimeKey, time.Now())
	logger.Info(context.Background(), "BEFORE JOB, jobName:%v, jobExecutionId:%v, params:%v", execution.JobName, execution.JobExecutionId, execution.JobParams)
	return nil
}

func (p *JobProfiler) AfterJob(execution *JobExecution) BatchError {
	ctx := context.Background()
	start, ok := execution.JobContext.Get(JobStartTimeKey).(time.Time)
	if !ok {
		start = execution.StartTime
	}
	elapsed := time.Since(start)
	execution.JobContext.Put(JobElapsedKey, elapsed)
	for _, result := range execution.PartitionResults() {
		logger.Info(ctx, "partition:%v, range:%v, status:%v, read:%v, write:%v, skipped:%v, err:%v", result.ID, result.Range, result.Status, result.ReadCount, result.WriteCount, result.SkippedCount, result.Error)
	}
	logger.Info(ctx, "AFTER JOB, jobName:%v, jobExecutionId:%v, jobStatus:%v, elapsed:%v", execution.JobName, execution.JobExecutionId, execution.JobStatus, elapsed)
	return nil
}
