package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type reporter struct {
	ok    bool
	parts []int32
}

func (r reporter) Readiness() (bool, []int32) { return r.ok, r.parts }

type readyBody struct {
	Status     string            `json:"status"`
	Checks     map[string]string `json:"checks"`
	Partitions []int32           `json:"partitions"`
}

func probe(t *testing.T, h http.HandlerFunc) (int, readyBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var b readyBody
	if err := json.Unmarshal(rr.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v body=%s", err, rr.Body.String())
	}
	return rr.Code, b
}

func TestReadiness(t *testing.T) {
	okCheck := Check{Name: "remote", Fn: func(context.Context) error { return nil }}
	badCheck := Check{Name: "remote", Fn: func(context.Context) error { return errors.New("unreachable") }}

	code, b := probe(t, Readiness([]Check{okCheck}, nil, time.Second))
	if code != http.StatusOK || b.Status != "ready" || b.Checks["remote"] != "ok" {
		t.Fatalf("code=%d body=%+v", code, b)
	}

	code, b = probe(t, Readiness([]Check{badCheck}, nil, time.Second))
	if code != http.StatusServiceUnavailable || b.Status != "not_ready" || b.Checks["remote"] != "unreachable" {
		t.Fatalf("code=%d body=%+v", code, b)
	}

	code, b = probe(t, Readiness([]Check{okCheck}, reporter{ok: true, parts: []int32{2, 0}}, time.Second))
	if code != http.StatusOK || len(b.Partitions) != 2 || b.Partitions[0] != 0 {
		t.Fatalf("code=%d body=%+v", code, b)
	}

	code, b = probe(t, Readiness(nil, reporter{}, time.Second))
	if code != http.StatusServiceUnavailable || b.Checks["invalidation"] == "ok" {
		t.Fatalf("code=%d body=%+v", code, b)
	}
}
