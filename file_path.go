package linebatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chararch/linebatch/file"
	"github.com/pkg/errors"
)

//FilePath a file name pattern, {param} and {param,format} are replaced by job parameters or context values
type FilePath struct {
	NamePattern string
}

var paramRegexp = regexp.MustCompile(`\{[^}]+\}`)

//Format resolves the pattern for an execution. {job:param} and {step:param} look up the job or step context only.
func (f *FilePath) Format(execution *StepExecution) (string, error) {
	var firstErr error
	factPath := paramRegexp.ReplaceAllStringFunc(f.NamePattern, func(s string) string {
		if firstErr != nil {
			return s
		}
		str, err := resolveParam(execution, s[1:len(s)-1])
		if err != nil {
			firstErr = err
		}
		return str
	})
	if firstErr != nil {
		return "", firstErr
	}
	return factPath, nil
}

func resolveParam(execution *StepExecution, s string) (string, error) {
	category, param, format := "", s, ""
	if idx := strings.Index(s, ":"); idx > 0 {
		category, param = s[0:idx], s[idx+1:]
	}
	if idx := strings.Index(param, ","); idx > 0 {
		param, format = param[0:idx], param[idx+1:]
	}
	jobExecution := execution.JobExecution
	var paramVal interface{}
	switch category {
	case "":
		if v, ok := jobExecution.JobParams[param]; ok {
			paramVal = v
		} else if execution.StepContext.Exists(param) {
			paramVal = execution.StepContext.Get(param)
		} else if jobExecution.JobContext.Exists(param) {
			paramVal = jobExecution.JobContext.Get(param)
		} else if param == "date" && format != "" {
			paramVal = jobExecution.CreateTime
		} else {
			return "", errors.Errorf("can not find param:%v", param)
		}
	case "job":
		if !jobExecution.JobContext.Exists(param) {
			return "", errors.Errorf("can not find param:%v in JobExecution", param)
		}
		paramVal = jobExecution.JobContext.Get(param)
	case "step":
		if !execution.StepContext.Exists(param) {
			return "", errors.Errorf("can not find param:%v in StepExecution", param)
		}
		paramVal = execution.StepContext.Get(param)
	default:
		return "", errors.Errorf("unsupported param category: %v", category)
	}
	return formatParam(paramVal, format)
}

var dateFmtRegexp = regexp.MustCompile("yyyy|MM|dd|HH|mm|SS")

var dateLayout = strings.NewReplacer("yyyy", "2006", "MM", "01", "dd", "02", "HH", "15", "mm", "04", "SS", "05")

func formatParam(val interface{}, format string) (string, error) {
	if val == nil {
		return "", nil
	}
	switch {
	case format == "":
		return fmt.Sprintf("%v", val), nil
	case dateFmtRegexp.MatchString(format):
		dt, err := parseDate(val)
		if err != nil {
			return "", err
		}
		return dt.Format(dateLayout.Replace(format)), nil
	case strings.Contains(format, "#"):
		//zero padded number, e.g. {seq,4#}
		digits, err := strconv.Atoi(strings.Trim(format, "#"))
		if err != nil {
			return "", errors.Errorf("unsupported format:%v", format)
		}
		n, err := parseInteger(val)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%0*d", digits, n), nil
	}
	return "", errors.Errorf("unsupported format:%v", format)
}

func parseDate(val interface{}) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case string:
		switch len(v) {
		case 8:
			return time.ParseInLocation("20060102", v, time.Local)
		case 10:
			return time.ParseInLocation("2006-01-02", v, time.Local)
		case 19:
			return time.ParseInLocation("2006-01-02 15:04:05", v, time.Local)
		}
	}
	return time.Time{}, errors.Errorf("can not parse to date:%v", val)
}

func parseInteger(val interface{}) (int64, error) {
	if n, ok := toInt64(val); ok {
		return n, nil
	}
	if s, ok := val.(string); ok {
		return strconv.ParseInt(s, 10, 64)
	}
	return -1, errors.Errorf("can not parse to integer:%v", val)
}

// resolveFile copy of fd with the file name pattern resolved for the execution
func resolveFile(fd file.FileObjectModel, execution *StepExecution) (file.FileObjectModel, BatchError) {
	fp := &FilePath{fd.FileName}
	fileName, err := fp.Format(execution)
	if err != nil {
		return fd, NewBatchError(ErrCodeConfig, "get real file path:%v err", fd.FileName, err)
	}
	fd.FileName = fileName
	return fd, nil
}
