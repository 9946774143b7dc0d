package pprof

import (
	"context"
	"net/http"
	"testing"
	"time"

	logx "ttiwatch/pkg/logx"
)

func startTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	svc := New(cfg, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		svc.Stop(context.Background())
		cancel()
	})

	deadline := time.Now().Add(5 * time.Second)
	for svc.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("pprof server never bound a listener")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return svc
}

func get(t *testing.T, url string, header map[string]string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestTokenAuth(t *testing.T) {
	svc := startTestService(t, Config{Token: "s3cret"})
	base := "http://" + svc.Addr() + "/debug/pprof/"

	if code := get(t, base, nil); code != http.StatusUnauthorized {
		t.Fatalf("no credentials: status %d, want 401", code)
	}
	if code := get(t, base, map[string]string{"Authorization": "Bearer wrong"}); code != http.StatusUnauthorized {
		t.Fatalf("wrong bearer token: status %d, want 401", code)
	}
	if code := get(t, base+"?token=nope", nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong query token: status %d, want 401", code)
	}
	if code := get(t, base, map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("bearer token: status %d, want 200", code)
	}
	if code := get(t, base+"?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token: status %d, want 200", code)
	}
}

func TestNoTokenOnLoopbackServesOpen(t *testing.T) {
	svc := startTestService(t, Config{})
	if code := get(t, "http://"+svc.Addr()+"/debug/pprof/", nil); code != http.StatusOK {
		t.Fatalf("loopback without token: status %d, want 200", code)
	}
}

func TestRefusesInsecureNonLoopbackBind(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.serveOnce(ctx); err == nil {
		t.Fatal("expected refusal for tokenless non-loopback bind")
	}
	if svc.Addr() != "" {
		t.Fatalf("listener bound despite refusal: %s", svc.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"192.168.1.5:6060", false},
		{"not-an-addr", false},
	}
	for _, tc := range cases {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}
