package buildinfo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caravelhq/caravel-cli/pkg/buildinfo"
)

func serveVersion(t *testing.T, serviceName string) (*httptest.ResponseRecorder, buildinfo.Info) {
	t.Helper()

	rec := httptest.NewRecorder()
	buildinfo.Handler(serviceName)(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info buildinfo.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, info
}

func TestHandler(t *testing.T) {
	rec, info := serveVersion(t, "caravel-workers")

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %s", ct)
	}

	if info.ServiceName != "caravel-workers" {
		t.Errorf("service_name: got %q", info.ServiceName)
	}
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("build fields must never be empty: %+v", info)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("go_version: got %q", info.GoVersion)
	}
}

func TestHandler_ServiceNamePassthrough(t *testing.T) {
	for _, name := range []string{"caravel", "caravel-workers"} {
		t.Run(name, func(t *testing.T) {
			if _, info := serveVersion(t, name); info.ServiceName != name {
				t.Errorf("service_name: got %q, want %q", info.ServiceName, name)
			}
		})
	}
}
