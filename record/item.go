package record

import (
	"github.com/pkg/errors"
)

// ItemFields column order of the item files
var ItemFields = []string{"name", "owner", "count", "val1", "val2", "val3", "location", "type", "val4"}

// Item one line of an item file
type Item struct {
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	Count    string `json:"count"`
	Val1     string `json:"val1"`
	Val2     string `json:"val2"`
	Val3     string `json:"val3"`
	Location string `json:"location"`
	Type     string `json:"type"`
	Val4     string `json:"val4"`
}

func (it *Item) fields() []string {
	return []string{it.Name, it.Owner, it.Count, it.Val1, it.Val2, it.Val3, it.Location, it.Type, it.Val4}
}

// ItemCodec Codec for *Item
type ItemCodec struct {
	Separator rune
}

// NewItemCodec codec using sep as field separator, 0 means DefaultSeparator
func NewItemCodec(sep rune) *ItemCodec {
	if sep == 0 {
		sep = DefaultSeparator
	}
	return &ItemCodec{Separator: sep}
}

func (c *ItemCodec) Decode(line string) (interface{}, error) {
	f, err := SplitLine(line, c.Separator, len(ItemFields))
	if err != nil {
		return nil, err
	}
	return &Item{
		Name:     f[0],
		Owner:    f[1],
		Count:    f[2],
		Val1:     f[3],
		Val2:     f[4],
		Val3:     f[5],
		Location: f[6],
		Type:     f[7],
		Val4:     f[8],
	}, nil
}

func (c *ItemCodec) Encode(item interface{}) (string, error) {
	switch it := item.(type) {
	case *Item:
		return JoinFields(it.fields(), c.Separator)
	case Item:
		return JoinFields(it.fields(), c.Separator)
	}
	return "", errors.Errorf("ItemCodec can not encode %T", item)
}

// Header column names joined with the separator
func (c *ItemCodec) Header() (string, error) {
	return JoinFields(ItemFields, c.Separator)
}
