package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
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

type fakeConsumer struct{ ready bool }

func (f fakeConsumer) Readiness() (bool, []int32) {
	if f.ready {
		return true, []int32{0}
	}
	return false, nil
}

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

type readyBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"checks"`
}

func serve(t *testing.T, h http.HandlerFunc) (int, readyBody) {
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
	code, b := serve(t, Readiness(time.Second,
		Check{Name: "database", Ping: up},
		Check{Name: "cache", Ping: up},
		ConsumerCheck("invalidation", fakeConsumer{ready: false}),
	))
	if code != http.StatusOK || b.Status != "ready" {
		t.Fatalf("code=%d body=%+v", code, b)
	}
	if b.Checks["invalidation"].Status != "down" || b.Checks["cache"].Status != "up" {
		t.Fatalf("checks=%+v", b.Checks)
	}

	code, b = serve(t, Readiness(time.Second,
		Check{Name: "database", Ping: up},
		Check{Name: "cache", Ping: down},
	))
	if code != http.StatusServiceUnavailable || b.Status != "not_ready" {
		t.Fatalf("code=%d body=%+v", code, b)
	}
	if b.Checks["cache"].Error != "connection refused" {
		t.Fatalf("cache check=%+v", b.Checks["cache"])
	}
}
