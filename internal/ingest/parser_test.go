package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("pump-3 tds=320 ph=7.4 turbidity=1.2 ts=1767225600000")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "pump-3" {
		t.Fatalf("device id: %s", fields.DeviceID)
	}
	if fields.TDS != "320" || fields.PH != "7.4" || fields.Turbidity != "1.2" || fields.Timestamp != "1767225600000" {
		t.Fatalf("values mismatch: %+v", fields)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,device_id,tds,ph,turbidity"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("1767225600000,tank-1,410,6.9,3.3")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "tank-1" || fields.TDS != "410" || fields.Turbidity != "3.3" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVPositional(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("tank-2,120,7.0,0.4")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "tank-2" || fields.PH != "7.0" || fields.Timestamp != "" {
		t.Fatalf("positional parse mismatch: %+v", fields)
	}
}

func TestParseJSONKeepsEpochMillis(t *testing.T) {
	p := NewParser()
	line := `{"deviceId":"well-9","tds":600,"ph":7.1,"turbidity":2,"timestamp":1767225600000}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "well-9" || fields.TDS != "600" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Timestamp != "1767225600000" {
		t.Fatalf("timestamp reformatted: %s", fields.Timestamp)
	}
}

func TestParseJSONList(t *testing.T) {
	list, err := ParseJSONList([]byte(` [{"deviceId":"a","tds":1,"ph":7,"turbidity":1},{"deviceId":"b","tds":2,"ph":7,"turbidity":1}] `))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(list) != 2 || list[1].DeviceID != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, err := ParseJSONList([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
