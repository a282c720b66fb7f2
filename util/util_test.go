package util

import (
	"encoding/json"
	"testing"

	"github.com/bmizerany/assert"
)

func TestParseJson_KeepsNumbers(t *testing.T) {
	params := map[string]interface{}{}
	err := ParseJson(`{"input":"in.csv","total":59507}`, &params)
	assert.Equal(t, nil, err)
	assert.Equal(t, "in.csv", params["input"])
	assert.Equal(t, json.Number("59507"), params["total"])

	str, err := JsonString(map[string]int{"a": 1})
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"a":1}`, str)
}

func TestMD5(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5("abc"))
}
