package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/iface"
	"go.jonnrb.io/apgw/netcfg"
)

type staticSource gateway.Snapshot

func (s staticSource) Snapshot() gateway.Snapshot { return gateway.Snapshot(s) }

func healthy() staticSource {
	return staticSource{
		Wired:              iface.Status{Role: netcfg.Wired, State: iface.Ready},
		Wireless:           iface.Status{Role: netcfg.WirelessAP, State: iface.Ready},
		TranslationEnabled: true,
	}
}

func get(hc *HealthChecker) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	hc.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	return w
}

func TestHealth_OK(t *testing.T) {
	hc := New(context.Background(), healthy(), "")

	w := get(hc)
	if w.Code != http.StatusOK || w.Body.String() != "OK\n" {
		t.Errorf("expected 200 OK; got %d %q", w.Code, w.Body.String())
	}
}

func TestHealth_Unready(t *testing.T) {
	wiredDown := healthy()
	wiredDown.Wired.State = iface.LinkUp
	apDown := healthy()
	apDown.Wireless.State = iface.Down
	noNAT := healthy()
	noNAT.TranslationEnabled = false

	for name, src := range map[string]staticSource{
		"wired":       wiredDown,
		"ap":          apDown,
		"translation": noNAT,
	} {
		w := get(New(context.Background(), src, ""))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503; got %d %q", name, w.Code, w.Body.String())
		}
	}
}

func TestHealth_Upstream(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := get(New(ctx, healthy(), up.URL))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200; got %d %q", w.Code, w.Body.String())
	}

	up.Close()
	w = get(New(ctx, healthy(), up.URL))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 with upstream gone; got %d %q", w.Code, w.Body.String())
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(New(context.Background(), healthy(), ""))
	defer srv.Close()

	var out strings.Builder
	code, err := Probe(context.Background(), strings.TrimPrefix(srv.URL, "http://"), &out)
	if err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	if code != http.StatusOK || out.String() != "OK\n" {
		t.Errorf("expected 200 OK; got %d %q", code, out.String())
	}
}
