package util

import (
	"encoding/json"
	"strings"
)

// JsonString generate json string for an object
func JsonString(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseJson parse json string to an object, numbers are kept as json.Number so int64 line counts survive
func ParseJson(jsonStr string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.UseNumber()
	return dec.Decode(v)
}
