package linebatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chararch/linebatch/status"
	"github.com/chararch/linebatch/util"
	"github.com/pkg/errors"
)

// SchemaDDL tables used by the SQL JobRepository, MySQL dialect
var SchemaDDL = []string{
	`create table if not exists batch_job_execution (
		job_execution_id bigint not null auto_increment primary key,
		job_name varchar(128) not null,
		job_key varchar(32) not null,
		job_params text,
		create_time datetime(3) not null,
		start_time datetime(3) null,
		end_time datetime(3) null,
		status varchar(16) not null,
		exit_message text,
		last_updated datetime(3) not null,
		version bigint not null,
		key idx_job_key (job_name, job_key)
	)`,
	`create table if not exists batch_step_execution (
		step_execution_id bigint not null auto_increment primary key,
		job_execution_id bigint not null,
		job_name varchar(128) not null,
		step_name varchar(256) not null,
		partition_id varchar(64) null,
		range_from bigint null,
		range_to bigint null,
		create_time datetime(3) not null,
		start_time datetime(3) null,
		end_time datetime(3) null,
		status varchar(16) not null,
		commit_count bigint not null default 0,
		read_count bigint not null default 0,
		filter_count bigint not null default 0,
		write_count bigint not null default 0,
		read_skip_count bigint not null default 0,
		write_skip_count bigint not null default 0,
		process_skip_count bigint not null default 0,
		rollback_count bigint not null default 0,
		step_context text,
		exit_message text,
		last_updated datetime(3) not null,
		version bigint not null,
		key idx_job_execution (job_execution_id)
	)`,
}

// sqlRepository JobRepository persisting executions through database/sql
type sqlRepository struct {
	db *sql.DB
}

// NewSQLRepository JobRepository backed by db, the tables of SchemaDDL must exist
func NewSQLRepository(db *sql.DB) JobRepository {
	return &sqlRepository{db: db}
}

// CreateSchema creates the repository tables if missing
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range SchemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrap(err, "create batch tables")
		}
	}
	return nil
}

func jobKey(jobName string, params map[string]interface{}) (string, string, error) {
	str, err := util.JsonString(params)
	if err != nil {
		return "", "", err
	}
	return util.MD5(jobName + ":" + str), str, nil
}

func errMessage(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *sqlRepository) SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	now := time.Now()
	if execution.JobExecutionId == 0 {
		key, params, err := jobKey(execution.JobName, execution.JobParams)
		if err != nil {
			return NewBatchError(ErrCodeGeneral, "serialize job params err", err)
		}
		res, err := r.db.ExecContext(ctx, "insert into batch_job_execution(job_name, job_key, job_params, create_time, start_time, end_time, status, exit_message, last_updated, version) values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			execution.JobName, key, params, execution.CreateTime, nullTime(execution.StartTime), nullTime(execution.EndTime), string(execution.JobStatus), errMessage(execution.FailError), now, 1)
		if err != nil {
			return NewBatchError(ErrCodeDbFail, "insert batch_job_execution err", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return NewBatchError(ErrCodeDbFail, "get batch_job_execution id err", err)
		}
		execution.JobExecutionId = id
		execution.Version = 1
		return nil
	}
	res, err := r.db.ExecContext(ctx, "update batch_job_execution set status=?, start_time=?, end_time=?, exit_message=?, last_updated=?, version=? where job_execution_id=? and version=?",
		string(execution.JobStatus), nullTime(execution.StartTime), nullTime(execution.EndTime), errMessage(execution.FailError), now, execution.Version+1, execution.JobExecutionId, execution.Version)
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "update batch_job_execution err", err)
	}
	if rowsAffected, _ := res.RowsAffected(); rowsAffected <= 0 {
		return NewBatchError(ErrCodeConcurrency, "update batch_job_execution:%v version:%v failed", execution.JobExecutionId, execution.Version)
	}
	execution.Version++
	return nil
}

func (r *sqlRepository) SaveStepExecution(ctx context.Context, execution *StepExecution) BatchError {
	now := time.Now()
	stepCtx, err := util.JsonString(execution.StepContext)
	if err != nil {
		stepCtx = "{}"
	}
	if execution.StepExecutionId == 0 {
		var partitionId sql.NullString
		var from, to sql.NullInt64
		if lr := execution.LineRange; lr != nil {
			partitionId = sql.NullString{String: lr.ID, Valid: true}
			from = sql.NullInt64{Int64: lr.From, Valid: true}
			to = sql.NullInt64{Int64: lr.To, Valid: true}
		}
		res, err := r.db.ExecContext(ctx, "insert into batch_step_execution(job_execution_id, job_name, step_name, partition_id, range_from, range_to, create_time, start_time, end_time, status, commit_count, read_count, filter_count, write_count, read_skip_count, write_skip_count, process_skip_count, rollback_count, step_context, exit_message, last_updated, version) values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			execution.JobExecution.JobExecutionId, execution.JobExecution.JobName, execution.StepName, partitionId, from, to, execution.CreateTime, nullTime(execution.StartTime), nullTime(execution.EndTime), string(execution.StepStatus),
			execution.CommitCount, execution.ReadCount, execution.FilterCount, execution.WriteCount, execution.ReadSkipCount, execution.WriteSkipCount, execution.ProcessSkipCount, execution.RollbackCount,
			stepCtx, errMessage(execution.FailError), now, 1)
		if err != nil {
			return NewBatchError(ErrCodeDbFail, "insert batch_step_execution err", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return NewBatchError(ErrCodeDbFail, "get batch_step_execution id err", err)
		}
		execution.StepExecutionId = id
		execution.Version = 1
		execution.LastUpdated = now
		return nil
	}
	res, err := r.db.ExecContext(ctx, "update batch_step_execution set status=?, start_time=?, end_time=?, commit_count=?, read_count=?, filter_count=?, write_count=?, read_skip_count=?, write_skip_count=?, process_skip_count=?, rollback_count=?, step_context=?, exit_message=?, last_updated=?, version=? where step_execution_id=? and version=?",
		string(execution.StepStatus), nullTime(execution.StartTime), nullTime(execution.EndTime), execution.CommitCount, execution.ReadCount, execution.FilterCount, execution.WriteCount, execution.ReadSkipCount, execution.WriteSkipCount, execution.ProcessSkipCount, execution.RollbackCount,
		stepCtx, errMessage(execution.FailError), now, execution.Version+1, execution.StepExecutionId, execution.Version)
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "update batch_step_execution err", err)
	}
	if rowsAffected, _ := res.RowsAffected(); rowsAffected <= 0 {
		return NewBatchError(ErrCodeConcurrency, "update batch_step_execution:%v version:%v failed", execution.StepExecutionId, execution.Version)
	}
	execution.Version++
	execution.LastUpdated = now
	return nil
}

const jobExecutionColumns = "job_execution_id, job_name, job_params, create_time, start_time, end_time, status, exit_message, version"

func scanJobExecution(rows *sql.Rows) (*JobExecution, error) {
	var params, exitMessage sql.NullString
	var startTime, endTime sql.NullTime
	var jobStatus string
	execution := &JobExecution{JobContext: NewBatchContext()}
	if err := rows.Scan(&execution.JobExecutionId, &execution.JobName, &params, &execution.CreateTime, &startTime, &endTime, &jobStatus, &exitMessage, &execution.Version); err != nil {
		return nil, err
	}
	execution.JobStatus = status.BatchStatus(jobStatus)
	execution.StartTime = startTime.Time
	execution.EndTime = endTime.Time
	if exitMessage.Valid {
		execution.FailError = errors.New(exitMessage.String)
	}
	execution.JobParams = make(map[string]interface{})
	if params.Valid && params.String != "" {
		if err := util.ParseJson(params.String, &execution.JobParams); err != nil {
			return nil, err
		}
	}
	return execution, nil
}

func (r *sqlRepository) FindJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("select %s from batch_job_execution where job_execution_id=?", jobExecutionColumns), jobExecutionId)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "query batch_job_execution err", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	execution, err := scanJobExecution(rows)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "scan batch_job_execution err", err)
	}
	return execution, nil
}

func (r *sqlRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*JobExecution, BatchError) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("select %s from batch_job_execution where job_name=? and status in (?, ?, ?) order by job_execution_id", jobExecutionColumns),
		jobName, string(status.STARTING), string(status.STARTED), string(status.STOPPING))
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "query batch_job_execution err", err)
	}
	defer rows.Close()
	result := make([]*JobExecution, 0)
	for rows.Next() {
		execution, err := scanJobExecution(rows)
		if err != nil {
			return nil, NewBatchError(ErrCodeDbFail, "scan batch_job_execution err", err)
		}
		result = append(result, execution)
	}
	return result, nil
}

func (r *sqlRepository) FindStepExecutions(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError) {
	rows, err := r.db.QueryContext(ctx, "select step_execution_id, step_name, partition_id, range_from, range_to, create_time, start_time, end_time, status, commit_count, read_count, filter_count, write_count, read_skip_count, write_skip_count, process_skip_count, rollback_count, step_context, exit_message, last_updated, version from batch_step_execution where job_execution_id=? order by step_execution_id", jobExecutionId)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "query batch_step_execution err", err)
	}
	defer rows.Close()
	result := make([]*StepExecution, 0)
	for rows.Next() {
		var partitionId, stepCtx, exitMessage sql.NullString
		var from, to sql.NullInt64
		var startTime, endTime sql.NullTime
		var stepStatus string
		execution := &StepExecution{StepContext: NewBatchContext(), StepExecutionContext: NewBatchContext()}
		err = rows.Scan(&execution.StepExecutionId, &execution.StepName, &partitionId, &from, &to, &execution.CreateTime, &startTime, &endTime, &stepStatus,
			&execution.CommitCount, &execution.ReadCount, &execution.FilterCount, &execution.WriteCount, &execution.ReadSkipCount, &execution.WriteSkipCount, &execution.ProcessSkipCount, &execution.RollbackCount,
			&stepCtx, &exitMessage, &execution.LastUpdated, &execution.Version)
		if err != nil {
			return nil, NewBatchError(ErrCodeDbFail, "scan batch_step_execution err", err)
		}
		execution.StepStatus = status.BatchStatus(stepStatus)
		execution.StartTime = startTime.Time
		execution.EndTime = endTime.Time
		if partitionId.Valid {
			execution.LineRange = &LineRange{ID: partitionId.String, From: from.Int64, To: to.Int64}
		}
		if exitMessage.Valid {
			execution.FailError = errors.New(exitMessage.String)
		}
		if stepCtx.Valid && stepCtx.String != "" {
			if er := util.ParseJson(stepCtx.String, execution.StepContext); er != nil {
				return nil, NewBatchError(ErrCodeGeneral, "parse step context err", er)
			}
		}
		result = append(result, execution)
	}
	return result, nil
}
