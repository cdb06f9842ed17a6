package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"aquaguard/internal/normalize"
)

// ParseJSONBytes decodes one payload object. Numbers are kept verbatim so epoch-ms
// timestamps survive without float formatting.
func ParseJSONBytes(data []byte) (*normalize.Fields, error) {
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONList accepts either a single object or an array of objects.
func ParseJSONList(data []byte) ([]*normalize.Fields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trim[0] != '[' {
		fields, err := ParseJSONBytes(trim)
		if err != nil {
			return nil, err
		}
		return []*normalize.Fields{fields}, nil
	}
	var list []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		return nil, err
	}
	out := make([]*normalize.Fields, 0, len(list))
	for _, obj := range list {
		out = append(out, ParseJSONMap(obj))
	}
	return out, nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.Fields {
	kv := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		kv[strings.ToLower(key)] = fmt.Sprint(val)
	}
	return fieldsFromMap(kv)
}
