package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/config"
	"github.com/TekiyoCorp/ID-sub000/internal/media"
	"github.com/TekiyoCorp/ID-sub000/internal/orchestrator"
	"github.com/TekiyoCorp/ID-sub000/internal/permission"
	"github.com/TekiyoCorp/ID-sub000/internal/store"
	"github.com/TekiyoCorp/ID-sub000/internal/telephony"
	"github.com/TekiyoCorp/ID-sub000/internal/wake"
)

type apiFixture struct {
	router *gin.Engine
	store  *store.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	gate := permission.NewGate(&permission.StaticAuthorizer{
		Grants: map[permission.Resource]permission.Status{
			permission.ResourceMicrophone: permission.StatusGranted,
			permission.ResourceCamera:     permission.StatusGranted,
		},
	})

	engine := media.NewSimEngine()
	engine.AutoConnect = true

	orch := orchestrator.New(orchestrator.Deps{
		Gate:     gate,
		Media:    media.NewManager(engine, logger),
		Tel:      telephony.NewSimBridge(),
		Notifier: wake.NopNotifier{},
	}, orchestrator.Config{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orch.Run(ctx)

	cfg := &config.Config{
		JWTSecret:   "test-secret",
		PeerID:      "self",
		DisplayName: "Self",
		MediaEngine: config.EngineSim,
		VAPIDKeys:   &config.VAPIDKeys{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:test@test"},
	}

	bridge := wake.NewBridge(orch, 200*time.Millisecond, logger)

	h := New(cfg, st, orch, bridge, nil, logger)
	router := gin.New()
	h.Routes(router)

	return &apiFixture{router: router, store: st}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) register(t *testing.T) string {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"peer_id":      "device-1",
		"display_name": "Device One",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}
	return resp.Token
}

// waitForPhase polls GET /api/call until the call reaches the wanted
// phase. Session setup runs on the orchestrator loop, not the request.
func (f *apiFixture) waitForPhase(t *testing.T, token string, want call.Phase) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := f.do(t, http.MethodGet, "/api/call", token, nil)
		if w.Code == http.StatusOK {
			var snap call.Snapshot
			if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			if snap.Phase == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call never reached phase %s", want)
}

func TestRegisterLoginAndAuthRequired(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	if w := f.do(t, http.MethodGet, "/api/call", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/call", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("no-call status = %d, want 404", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"peer_id": "device-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"peer_id": "nobody"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown peer login status = %d, want 401", w.Code)
	}
}

func TestStartAndEndCallOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	w := f.do(t, http.MethodPost, "/api/call/start", token, map[string]string{
		"peer_id": "remote-1",
		"kind":    "audio",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}

	f.waitForPhase(t, token, call.PhaseActive)

	if w := f.do(t, http.MethodPost, "/api/call/start", token, map[string]string{
		"peer_id": "remote-2",
		"kind":    "audio",
	}); w.Code != http.StatusConflict {
		t.Fatalf("concurrent start status = %d, want 409", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/api/call/end", token, nil); w.Code != http.StatusOK {
		t.Fatalf("end status = %d, body %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w := f.do(t, http.MethodGet, "/api/call", token, nil)
		if w.Code == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call never cleared, last body %s", w.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartCallRejectsBadKind(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	w := f.do(t, http.MethodPost, "/api/call/start", token, map[string]string{
		"peer_id": "remote-1",
		"kind":    "hologram",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWakeBadPayloadAcknowledged(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/wake", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}

func TestWakeDeliversInvitation(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	payload, err := wake.EncodeInvitation("sess-wake-1", call.Peer{ID: "remote-1", DisplayName: "Remote"}, call.KindAudio)
	if err != nil {
		t.Fatalf("encode invitation: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/wake", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("wake status = %d, body %s", w.Code, w.Body.String())
	}

	f.waitForPhase(t, token, call.PhaseRinging)

	if w := f.do(t, http.MethodPost, "/api/call/reject", token, nil); w.Code != http.StatusOK {
		t.Fatalf("reject status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestMediaToggleWithoutCall(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	enabled := false
	w := f.do(t, http.MethodPost, "/api/call/media", token, map[string]any{
		"control": "audio",
		"enabled": &enabled,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCallHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t)

	snap := call.Snapshot{
		ID:        "sess-hist-1",
		Peer:      call.Peer{ID: "remote-1", DisplayName: "Remote"},
		Kind:      call.KindAudio,
		Direction: call.DirectionOutgoing,
		Phase:     call.PhaseEnded,
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
	}
	if _, err := f.store.RecordCall(snap); err != nil {
		t.Fatalf("record call: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/calls", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Calls []store.CallRecord `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].SessionID != "sess-hist-1" {
		t.Fatalf("unexpected history: %+v", resp.Calls)
	}
}
