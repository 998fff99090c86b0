package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxtap/internal/resilience"
)

func breakers(states ...string) func() []resilience.Snapshot {
	return func() []resilience.Snapshot {
		out := make([]resilience.Snapshot, len(states))
		for i, s := range states {
			out[i] = resilience.Snapshot{Name: []string{"baidu", "whisper"}[i], State: s}
		}
		return out
	}
}

func serve(t *testing.T, h *Handler, method, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body result
	if rec.Code != http.StatusMethodNotAllowed {
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
	}
	return rec.Code, body
}

func TestHealthz_AliveWhileCaptureDown(t *testing.T) {
	t.Parallel()
	h := New(CaptureRunning(flag(false), flag(false)))
	code, body := serve(t, h, http.MethodGet, "/healthz")
	if code != http.StatusOK || body.Status != StatusOK {
		t.Errorf("GET /healthz = %d %+v, want 200 ok", code, body)
	}
	if len(body.Checks) != 0 {
		t.Errorf("liveness must not run checks, got %v", body.Checks)
	}
}

func TestReadyz_ServiceStates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		running    bool
		calibrated bool
		stt        []string
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name: "ready", running: true, calibrated: true, stt: []string{"closed", "closed"},
			wantCode: http.StatusOK, wantStatus: StatusOK,
			wantChecks: map[string]string{"capture": "ok", "vad": "ok", "stt": "ok"},
		},
		{
			name: "recognition down degrades", running: true, calibrated: true, stt: []string{"open", "open"},
			wantCode: http.StatusOK, wantStatus: StatusDegraded,
			wantChecks: map[string]string{"capture": "ok", "vad": "ok", "stt": "degraded: all providers unavailable: baidu, whisper"},
		},
		{
			name: "calibrating fails", running: true, calibrated: false, stt: []string{"closed"},
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusFail,
			wantChecks: map[string]string{"capture": "ok", "vad": "fail: noise floor calibration in progress", "stt": "ok"},
		},
		{
			name: "capture down wins over degraded", running: false, calibrated: true, stt: nil,
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusFail,
			wantChecks: map[string]string{
				"capture": "fail: audio reception is not armed",
				"vad":     "ok",
				"stt":     "degraded: no provider configured",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(
				CaptureRunning(flag(tt.running), flag(false)),
				Calibrated(flag(tt.calibrated)),
				Recognition(breakers(tt.stt...)),
			)
			code, body := serve(t, h, http.MethodGet, "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("GET /readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksGetDeadline(t *testing.T) {
	t.Parallel()
	var remaining time.Duration
	h := New(Checker{Name: "capture", Check: func(ctx context.Context) error {
		dl, ok := ctx.Deadline()
		if !ok {
			t.Error("check context has no deadline")
		}
		remaining = time.Until(dl)
		return nil
	}})
	if code, _ := serve(t, h, http.MethodGet, "/readyz"); code != http.StatusOK {
		t.Fatalf("GET /readyz = %d", code)
	}
	if remaining <= 0 || remaining > checkTimeout {
		t.Errorf("deadline in %v, want within %v", remaining, checkTimeout)
	}
}

func TestRegister_OnlyGET(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"/healthz", "/readyz"} {
		if code, _ := serve(t, New(), http.MethodPost, path); code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d, want 405", path, code)
		}
		if code, body := serve(t, New(), http.MethodGet, path); code != http.StatusOK || !strings.EqualFold(body.Status, StatusOK) {
			t.Errorf("GET %s = %d %+v", path, code, body)
		}
	}
}
