package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("decode log line %q: %v", b, err)
	}
	return m
}

func TestSlogBridge_CarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "test"}, &buf)
	l := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithProduct(ctx, "modis/terra/NDVI")
	l.WarnContext(ctx, "geometry failed", "geometry_index", 2, "err", errors.New("boom"))

	m := decodeLine(t, buf.Bytes())
	if m["request_id"] != "req-1" || m["product"] != "modis/terra/NDVI" {
		t.Fatalf("context fields missing: %v", m)
	}
	if m["level"] != "warn" || m["msg"] != "geometry failed" || m["component"] != "test" {
		t.Fatalf("unexpected envelope: %v", m)
	}
	if m["geometry_index"] != float64(2) || m["err"] != "boom" {
		t.Fatalf("attrs missing: %v", m)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", m)
	}
}

func TestSlogBridge_GroupsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	l := NewSlog(&zl).WithGroup("remote").With("op", "series")

	l.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}
	l.Info("call", "status", 200)
	m := decodeLine(t, buf.Bytes())
	if m["remote.op"] != "series" || m["remote.status"] != float64(200) {
		t.Fatalf("group keys not flattened: %v", m)
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id=%q", id)
	}
	if RequestID(context.Background()) != "" {
		t.Fatal("empty context should have no request id")
	}
}
