package diag

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "spookbot/pkg/logx"
)

func newTestService() *Service {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "spookbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	status := func(ctx context.Context) any { return map[string]int{"games": 2} }
	return New(Config{}, reg, status, logx.Nop())
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandlerEndpoints(t *testing.T) {
	h := newTestService().Handler(Config{})

	if code, body := get(t, h, "/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics", nil); code != http.StatusOK || !strings.Contains(body, "spookbot_test_total 3") {
		t.Fatalf("/metrics = %d %q", code, body)
	}
	if code, body := get(t, h, "/status", nil); code != http.StatusOK || strings.TrimSpace(body) != `{"games":2}` {
		t.Fatalf("/status = %d %q", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof served while disabled: %d", code)
	}
}

func TestHandlerToken(t *testing.T) {
	h := newTestService().Handler(Config{Token: "s3cret", Pprof: true})

	if code, _ := get(t, h, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("/healthz needs no token, got %d", code)
	}
	if code, _ := get(t, h, "/metrics", nil); code != http.StatusUnauthorized {
		t.Fatalf("/metrics without token = %d", code)
	}
	if code, _ := get(t, h, "/metrics?token=wrong", nil); code != http.StatusUnauthorized {
		t.Fatalf("/metrics wrong token = %d", code)
	}
	if code, _ := get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("/metrics bearer = %d", code)
	}
	if code, _ := get(t, h, "/debug/pprof/?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("pprof index = %d", code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:9090": true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestStartServesAndStops(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("still serving after disable")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	s := newTestService()
	s.cfg = Config{Enabled: true, Addr: "0.0.0.0:0"}
	if err := s.serveOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Fatalf("err = %v", err)
	}
}
