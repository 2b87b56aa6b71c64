package monitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netrange/bfdd/internal/bfd"
	"github.com/netrange/bfdd/internal/monitor"
)

func testSnapshots() []bfd.SessionSnapshot {
	return []bfd.SessionSnapshot{
		{
			LocalDiscriminator:  42,
			RemoteDiscriminator: 99,
			PeerAddr:            netip.MustParseAddr("192.0.2.1"),
			PeerPort:            3784,
			LocalPort:           3784,
			LocalState:          bfd.StateUp,
			RemoteState:         bfd.StateUp,
			DetectMult:          3,
			DetectionTime:       3 * time.Second,
			TxInterval:          time.Second,
		},
		{
			LocalDiscriminator: 43,
			PeerAddr:           netip.MustParseAddr("192.0.2.2"),
			PeerPort:           3784,
			LocalPort:          3784,
			LocalState:         bfd.StateDown,
			LocalDiag:          bfd.DiagControlTimeExpired,
		},
	}
}

func newTestServer(t *testing.T, snaps func(context.Context) ([]bfd.SessionSnapshot, error)) *httptest.Server {
	t.Helper()
	if snaps == nil {
		snaps = func(context.Context) ([]bfd.SessionSnapshot, error) {
			return testSnapshots(), nil
		}
	}
	logger := slog.New(slog.DiscardHandler)
	srv := monitor.New("127.0.0.1:0", snaps, prometheus.NewRegistry(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestSessionsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Sessions []bfd.SessionSnapshot `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(body.Sessions))
	}
	if body.Sessions[0].LocalState != bfd.StateUp {
		t.Errorf("state = %s, want Up", body.Sessions[0].LocalState)
	}
	if body.Sessions[0].DetectionTime != 3*time.Second {
		t.Errorf("detection time = %v, want 3s", body.Sessions[0].DetectionTime)
	}
}

func TestSessionByDiscriminator(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/v1/sessions/43")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snap bfd.SessionSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.LocalDiscriminator != 43 {
		t.Errorf("discriminator = %d, want 43", snap.LocalDiscriminator)
	}
	if snap.LocalDiag != bfd.DiagControlTimeExpired {
		t.Errorf("diag = %s, want ControlTimeExpired", snap.LocalDiag)
	}

	for path, want := range map[string]int{
		"/v1/sessions/7":   http.StatusNotFound,
		"/v1/sessions/abc": http.StatusBadRequest,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestSnapshotErrorMapsToServiceUnavailable(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, func(context.Context) ([]bfd.SessionSnapshot, error) {
		return nil, errors.New("engine stopped")
	})

	resp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/metrics", "/v1/version"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
