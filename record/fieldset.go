package record

import (
	"github.com/pkg/errors"
)

// FieldSet record whose columns are named at runtime
type FieldSet struct {
	names  []string
	values map[string]string
}

// Names column names in file order
func (fs *FieldSet) Names() []string {
	return fs.names
}

// Get value of a column, ok is false for an unknown column
func (fs *FieldSet) Get(name string) (string, bool) {
	v, ok := fs.values[name]
	return v, ok
}

// Set changes the value of a known column
func (fs *FieldSet) Set(name, value string) error {
	if _, ok := fs.values[name]; !ok {
		return errors.Errorf("unknown field:%v", name)
	}
	fs.values[name] = value
	return nil
}

// Values column values in file order
func (fs *FieldSet) Values() []string {
	vals := make([]string, len(fs.names))
	for i, n := range fs.names {
		vals[i] = fs.values[n]
	}
	return vals
}

// FieldSetCodec Codec for *FieldSet
type FieldSetCodec struct {
	Names     []string
	Separator rune
}

// NewFieldSetCodec codec for lines with the given column names
func NewFieldSetCodec(sep rune, names ...string) *FieldSetCodec {
	if sep == 0 {
		sep = DefaultSeparator
	}
	return &FieldSetCodec{Names: names, Separator: sep}
}

func (c *FieldSetCodec) Decode(line string) (interface{}, error) {
	f, err := SplitLine(line, c.Separator, len(c.Names))
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(c.Names))
	for i, n := range c.Names {
		values[n] = f[i]
	}
	return &FieldSet{names: c.Names, values: values}, nil
}

func (c *FieldSetCodec) Encode(item interface{}) (string, error) {
	fs, ok := item.(*FieldSet)
	if !ok {
		return "", errors.Errorf("FieldSetCodec can not encode %T", item)
	}
	if len(fs.names) != len(c.Names) {
		return "", errors.Errorf("field count mismatch, expected:%d, actual:%d", len(c.Names), len(fs.names))
	}
	return JoinFields(fs.Values(), c.Separator)
}

// Header column names joined with the separator
func (c *FieldSetCodec) Header() (string, error) {
	return JoinFields(c.Names, c.Separator)
}
