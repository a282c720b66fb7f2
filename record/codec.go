// Package record decodes physical lines of a delimited file into records and encodes them back.
//
// Item is the compile-time schema of the processed files. FieldSet is the mapping-based variant
// for files whose columns are only known at runtime.
package record

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSeparator field separator used when none is configured
const DefaultSeparator = ','

// Codec converts between one physical line and one record. Implementations must be safe for
// concurrent use, every partition shares the codec of its step.
type Codec interface {
	Decode(line string) (interface{}, error)
	Encode(item interface{}) (string, error)
}

// DecodeError the line does not match the expected schema
type DecodeError struct {
	Line int64
	Text string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode line %d %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("decode line %q: %v", e.Text, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// SplitLine splits one physical line into exactly fieldCount fields, quoted fields are allowed
func SplitLine(line string, sep rune, fieldCount int) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = sep
	r.FieldsPerRecord = fieldCount
	fields, err := r.Read()
	if err != nil {
		return nil, &DecodeError{Text: line, Err: err}
	}
	if _, err = r.Read(); err == nil {
		return nil, &DecodeError{Text: line, Err: errors.New("more than one record on a line")}
	}
	return fields, nil
}

// JoinFields joins fields with sep, quoting where needed so that SplitLine gives them back
func JoinFields(fields []string, sep rune) (string, error) {
	sb := &strings.Builder{}
	w := csv.NewWriter(sb)
	w.Comma = sep
	if err := w.Write(fields); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
