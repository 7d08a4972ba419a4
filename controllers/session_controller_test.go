package controllers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campuslink_server/routes"
	"campuslink_server/services"

	"github.com/gorilla/mux"
)

func testRouter() *mux.Router {
	registry := services.NewMemoryRegistry()
	relay := services.NewMemoryRelay()
	factory := func(identity services.SessionIdentity) *services.SessionService {
		cfg := services.SessionConfig{
			Matchmaker: services.MatchmakerConfig{
				ScanInterval:  10 * time.Millisecond,
				WatchInterval: 10 * time.Millisecond,
			},
		}
		// No peer ever appears in these tests, so the transport factory is
		// never invoked.
		return services.NewSessionService(registry, relay, nil, nil, nil, identity, cfg)
	}

	r := mux.NewRouter()
	routes.RegisterSessionRoutes(r, factory)
	return r
}

func do(t *testing.T, router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStartSessionValidation(t *testing.T) {
	router := testRouter()

	if rec := do(t, router, "POST", "/api/session/start", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/session/start", `{"userId":"","mode":"RANDOM"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing userId: expected 400, got %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/session/start", `{"userId":"alice","mode":"SPEED"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown mode: expected 400, got %d", rec.Code)
	}
	banned := `{"userId":"alice","mode":"RANDOM","attributes":{"banned":true}}`
	if rec := do(t, router, "POST", "/api/session/start", banned); rec.Code != http.StatusForbidden {
		t.Fatalf("banned user: expected 403, got %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router := testRouter()
	start := `{"userId":"alice","mode":"RANDOM","attributes":{"interests":["coding"]}}`

	// No session yet.
	if rec := do(t, router, "POST", "/api/session/next", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("next without session: expected 404, got %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/session/stop", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("stop without session: expected 404, got %d", rec.Code)
	}
	rec := do(t, router, "GET", "/api/session/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var none map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&none); err != nil || none["state"] != "NONE" {
		t.Fatalf("expected NONE state, got %v (err %v)", none, err)
	}

	if rec := do(t, router, "POST", "/api/session/start", start); rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// Only one session per process.
	if rec := do(t, router, "POST", "/api/session/start", start); rec.Code != http.StatusConflict {
		t.Fatalf("double start: expected 409, got %d", rec.Code)
	}

	rec = do(t, router, "GET", "/api/session/status", "")
	var status services.SessionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.State != services.SessionSearching {
		t.Fatalf("expected SEARCHING, got %s", status.State)
	}

	if rec := do(t, router, "POST", "/api/session/next", ""); rec.Code != http.StatusOK {
		t.Fatalf("next: expected 200, got %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/session/stop", ""); rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}

	// A stopped session frees the slot for a new start.
	if rec := do(t, router, "POST", "/api/session/start", start); rec.Code != http.StatusOK {
		t.Fatalf("restart after stop: expected 200, got %d", rec.Code)
	}
	do(t, router, "POST", "/api/session/stop", "")
}
