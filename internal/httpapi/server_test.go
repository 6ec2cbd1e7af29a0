package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/claim"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/registry"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/transport"
)

type stubChannel struct {
	connected bool
}

func (c *stubChannel) Connect()    { c.connected = true }
func (c *stubChannel) Disconnect() { c.connected = false }
func (c *stubChannel) Send(protocol.Envelope) bool {
	return c.connected
}
func (c *stubChannel) State() transport.ConnectionState {
	return transport.ConnectionState{IsConnected: c.connected}
}

// newTestServer wires a registry with a stub channel and a claim client
// pointed at the given upstream handler. Pass nil when claims are unused.
func newTestServer(t *testing.T, upstream http.Handler) (*Server, *registry.Registry) {
	t.Helper()
	g := registry.New(&stubChannel{})
	t.Cleanup(g.Close)
	base := "http://unreachable.invalid"
	if upstream != nil {
		ts := httptest.NewServer(upstream)
		t.Cleanup(ts.Close)
		base = ts.URL
	}
	return NewServer(g, claim.New(base, nil), nil, ""), g
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestListDevicesFallsBackToRegistry(t *testing.T) {
	srv, g := newTestServer(t, nil)
	g.DeviceStatus(protocol.DeviceStatus{DeviceID: "dev-1", IsOnline: true, Timestamp: time.Now()})

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/pairing/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	var devices []protocol.DeviceStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 1 || devices[0].DeviceID != "dev-1" {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func TestAuthStateNotFoundWhenIdle(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/pairing/devices/dev-1/auth", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("idle device should 404, got %d", rec.Code)
	}
}

func TestAuthStateIncludesStaleFlag(t *testing.T) {
	srv, g := newTestServer(t, nil)
	g.UserActionRequired(protocol.UserActionRequired{
		DeviceID: "dev-1", Action: protocol.ActionEnterPairingCode,
		Message: "enter the code", PairingCode: "AB12CD",
	})

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/pairing/devices/dev-1/auth", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("auth state: %d %s", rec.Code, rec.Body)
	}
	var got struct {
		DeviceID    string `json:"deviceId"`
		PairingCode string `json:"pairingCode"`
		Stale       bool   `json:"stale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DeviceID != "dev-1" || got.PairingCode != "AB12CD" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.Stale {
		t.Fatal("fresh state flagged stale")
	}
}

func TestDismissAuthEndpoint(t *testing.T) {
	srv, g := newTestServer(t, nil)
	g.UserActionRequired(protocol.UserActionRequired{
		DeviceID: "dev-1", Action: protocol.ActionPressPowerButton,
	})

	rec := doJSON(t, srv.Router(), http.MethodDelete, "/api/pairing/devices/dev-1/auth", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("dismiss: %d", rec.Code)
	}
	if _, ok := g.AuthState("dev-1"); ok {
		t.Fatal("state survived dismiss")
	}
}

func TestClaimErrorMapping(t *testing.T) {
	cases := []struct {
		upstream int
		status   int
		code     string
	}{
		{http.StatusNotFound, http.StatusNotFound, "invalid_code"},
		{http.StatusBadRequest, http.StatusBadRequest, "code_expired"},
		{http.StatusConflict, http.StatusConflict, "already_claimed"},
		{http.StatusInternalServerError, http.StatusBadGateway, "claim_failed"},
	}
	for _, tc := range cases {
		srv, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.upstream)
		}))
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/pairing/claim",
			`{"pairingCode":"AB12CD","deviceName":"Kitchen"}`)
		if rec.Code != tc.status {
			t.Fatalf("upstream %d: got %d, want %d", tc.upstream, rec.Code, tc.status)
		}
		var body map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["error"] != tc.code {
			t.Fatalf("upstream %d: error code %q, want %q", tc.upstream, body["error"], tc.code)
		}
	}
}

func TestClaimMalformedCodeIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/pairing/claim",
		`{"pairingCode":"no","deviceName":"Kitchen"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed code: %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "malformed_code" {
		t.Fatalf("error code %q", body["error"])
	}
}

func TestClaimRequiresDeviceName(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/pairing/claim",
		`{"pairingCode":"AB12CD"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name: %d", rec.Code)
	}
}

func TestClaimSuccess(t *testing.T) {
	srv, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(claim.Device{ID: "dev-1", Name: "Kitchen", Status: "claimed"})
	}))
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/pairing/claim",
		`{"pairingCode":"ab12cd","deviceName":"Kitchen"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("claim: %d %s", rec.Code, rec.Body)
	}
	var dev claim.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &dev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dev.ID != "dev-1" {
		t.Fatalf("unexpected device: %+v", dev)
	}
}

func TestDiscoverGlobalScope(t *testing.T) {
	srv, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"devices": []claim.UnpairedDevice{{ID: "u1", Name: "Palette-1A2B"}},
		})
	}))
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/pairing/discover?scope=global", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("discover: %d %s", rec.Code, rec.Body)
	}
	var payload struct {
		Devices []claim.UnpairedDevice `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Devices) != 1 || payload.Devices[0].ID != "u1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	srv, g := newTestServer(t, nil)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/pairing/connection", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("connection: %d", rec.Code)
	}
	var state transport.ConnectionState
	_ = json.Unmarshal(rec.Body.Bytes(), &state)
	if state.IsConnected {
		t.Fatal("expected disconnected before any subscriber")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/pairing/connection/reconnect", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reconnect: %d", rec.Code)
	}
	if !g.ConnectionState().IsConnected {
		t.Fatal("reconnect did not bring the stub channel up")
	}
}

func TestJWTAuthGuard(t *testing.T) {
	const secret = "test-secret"
	g := registry.New(&stubChannel{})
	t.Cleanup(g.Close)
	srv := NewServer(g, claim.New("http://unreachable.invalid", nil), nil, secret)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/pairing/devices", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/pairing/devices", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", bad.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/pairing/devices", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	good := httptest.NewRecorder()
	router.ServeHTTP(good, req)
	if good.Code != http.StatusOK {
		t.Fatalf("valid token rejected: %d %s", good.Code, good.Body)
	}

	// Health and metrics stay open regardless of the guard.
	if rec := doJSON(t, router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind guard: %d", rec.Code)
	}
}
