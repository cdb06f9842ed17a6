package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"

	"aquaguard/internal/normalize"
)

var reKV = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,;]+)`)

// Parser turns one line of device output into Fields. It accepts JSON objects, CSV (with an
// optional header row), and plain key=value text.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.Fields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) *normalize.Fields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields := fieldsFromMap(kv)
	if fields.DeviceID == "" {
		if tokens := strings.Fields(line); len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.DeviceID = tokens[0]
		}
	}
	return fields
}

func fieldsFromMap(kv map[string]string) *normalize.Fields {
	fields := &normalize.Fields{Extras: map[string]string{}}
	for k, v := range kv {
		assignField(fields, k, v)
	}
	return fields
}

// CSVParser remembers the first header row it sees; without one, columns are read as
// deviceId,tds,ph,turbidity,timestamp.
type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.Fields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		p.mu.Unlock()
		return nil, nil
	}
	header := p.header
	p.mu.Unlock()

	fields := &normalize.Fields{Extras: map[string]string{}}
	if header != nil {
		for i, name := range header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	positional := []*string{&fields.DeviceID, &fields.TDS, &fields.PH, &fields.Turbidity, &fields.Timestamp}
	for i, dst := range positional {
		if i < len(record) {
			*dst = strings.TrimSpace(record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "deviceid", "device_id", "device", "timestamp", "time", "ts", "tds", "ph", "turbidity":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.Fields, name string, value string) {
	value = strings.TrimSpace(value)
	switch name {
	case "deviceid", "device_id", "device", "sensor", "sensor_id":
		fields.DeviceID = value
	case "tds":
		fields.TDS = value
	case "ph":
		fields.PH = value
	case "turbidity", "ntu":
		fields.Turbidity = value
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}
