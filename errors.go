package linebatch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// BatchError error raised by jobs, steps, readers and writers, the code decides how the engine reacts
type BatchError interface {
	Code() string
	Message() string
	Error() string
	Cause() error
	StackTrace() errors.StackTrace
}

type batchErr struct {
	code  string
	msg   string
	cause error
	stack errors.StackTrace
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.msg
}

func (err *batchErr) Cause() error {
	return err.cause
}

func (err *batchErr) Unwrap() error {
	return err.cause
}

func (err *batchErr) StackTrace() errors.StackTrace {
	return err.stack
}

func (err *batchErr) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("batch err, code:%v, message:%v, cause:%v", err.code, err.msg, err.cause)
	}
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.msg)
}

func (err *batchErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprint(s, err.Error())
			err.stack.Format(s, verb)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

// NewBatchError create a BatchError. msg is a format string, when args carry one more value than
// msg has verbs and that value is an error, it becomes the cause. A BatchError passed as cause with
// the same code is returned as is.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if n := len(args); n > 0 && n > countVerbs(msg) {
		if e, ok := args[n-1].(error); ok {
			cause = e
			args = args[:n-1]
		}
	}
	if be, ok := cause.(BatchError); ok && be.Code() == code && len(args) == 0 {
		return be
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &batchErr{
		code:  code,
		msg:   msg,
		cause: cause,
		stack: callers(),
	}
}

func countVerbs(format string) int {
	return strings.Count(format, "%") - 2*strings.Count(format, "%%")
}

func callers() errors.StackTrace {
	// pkg/errors keeps the stack of the call site
	st, ok := errors.WithStack(errSentinel).(interface{ StackTrace() errors.StackTrace })
	if !ok {
		return nil
	}
	trace := st.StackTrace()
	if len(trace) > 2 {
		return trace[2:]
	}
	return trace
}

var errSentinel = errors.New("stack")

// IsCode reports whether err, or an error it wraps, is a BatchError with the given code
func IsCode(err error, code string) bool {
	for err != nil {
		if be, ok := err.(BatchError); ok && be.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

const (
	ErrCodeRetry       = "retry"
	ErrCodeStop        = "stop"
	ErrCodeConcurrency = "concurrency"
	ErrCodeDbFail      = "db_fail"
	ErrCodeGeneral     = "general"
	// ErrCodeDecode a line could not be decoded into a record, skippable by default
	ErrCodeDecode = "decode"
	// ErrCodeResource input or output resource could not be opened, read or written
	ErrCodeResource = "resource"
	// ErrCodeConfig invalid job or step configuration
	ErrCodeConfig = "config"
)
