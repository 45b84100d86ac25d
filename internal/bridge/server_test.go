package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/sarafan/internal/config"
	"github.com/kingrea/sarafan/internal/intent"
	"github.com/kingrea/sarafan/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *intent.Router, *store.Store) {
	t.Helper()
	router := intent.NewRouter()
	st := store.New()
	srv := NewServer(Settings{Enabled: true, MaxBodyBytes: 256}, router, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, router, st
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIntentsAcceptsCreatePost(t *testing.T) {
	ts, router, _ := newTestServer(t)
	sub := router.Subscribe(intent.KindCreatePost)
	defer sub.Close()

	resp := postJSON(t, ts.URL+"/intents", map[string]string{
		"kind":        "CREATE_POST_REQUESTED",
		"text":        "hello",
		"private_key": "secret",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var body intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	select {
	case in := <-sub.Intents:
		if in.ID != body.ID || in.Text != "hello" || in.PrivateKey != "secret" {
			t.Fatalf("unexpected routed intent %+v (response %+v)", in, body)
		}
	default:
		t.Fatalf("intent was not routed")
	}
}

func TestIntentsAcceptsFeedFetch(t *testing.T) {
	ts, router, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/intents", map[string]string{"kind": "feed_fetch_requested", "cursor": "abc"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	sub := router.Subscribe(intent.KindFeedFetch)
	defer sub.Close()
	if in := <-sub.Intents; in.Cursor != "abc" {
		t.Fatalf("expected cursor abc, got %q", in.Cursor)
	}
}

func TestIntentsRejectsBadInput(t *testing.T) {
	ts, _, _ := newTestServer(t)
	cases := map[string]struct {
		body string
		want int
	}{
		"invalid json": {`{"kind":`, http.StatusBadRequest},
		"unknown kind": {`{"kind":"LIKE_POST"}`, http.StatusBadRequest},
		"empty text":   {`{"kind":"CREATE_POST_REQUESTED","text":"  "}`, http.StatusBadRequest},
		"too large":    {`{"kind":"CREATE_POST_REQUESTED","text":"` + strings.Repeat("a", 512) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		resp, err := http.Post(ts.URL+"/intents", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: post: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", name, tc.want, resp.StatusCode)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/intents")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
	resp = postJSON(t, ts.URL+"/state", map[string]string{})
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST /state, got %d", resp.StatusCode)
	}
}

func TestStateReturnsSnapshot(t *testing.T) {
	ts, _, st := newTestServer(t)
	_, _ = st.Dispatch(store.AddPost("m1", "hi"))
	_, _ = st.Dispatch(store.UpdateCursor(""))
	resp, err := http.Get(ts.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Seq != 2 || len(body.State.Publications) != 1 || !body.State.UIState.Ended {
		t.Fatalf("unexpected state %+v", body)
	}
}

type skewedState struct {
	*store.Store
}

// Seq runs ahead of Snapshot, as a dispatch landing between two reads would.
func (s skewedState) Seq() int64 { return s.Store.Seq() + 1 }

func TestStateSeqMatchesSnapshot(t *testing.T) {
	st := store.New()
	_, _ = st.Dispatch(store.AddPost("m1", "hi"))
	srv := NewServer(Settings{Enabled: true}, intent.NewRouter(), skewedState{st})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	resp, err := http.Get(ts.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Seq != int64(len(body.State.Publications)) {
		t.Fatalf("seq %d does not describe a snapshot with %d posts", body.Seq, len(body.State.Publications))
	}
}

func TestServerStartAndHealth(t *testing.T) {
	fixed := time.Unix(1730000000, 0).UTC()
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings, intent.NewRouter(), store.New(), WithClock(func() time.Time { return fixed }))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != string(StatusReady) || health.Version != ProtocolVersion || health.UptimeSeconds != 0 {
		t.Fatalf("unexpected health %+v", health)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second start")
	}
}

func TestServerStartGuards(t *testing.T) {
	disabled := NewServer(Settings{}, intent.NewRouter(), store.New())
	if err := disabled.Start(context.Background()); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	public := NewServer(Settings{Enabled: true, Host: "0.0.0.0"}, intent.NewRouter(), store.New())
	if err := public.Start(context.Background()); err == nil {
		t.Fatalf("expected non-loopback host to be refused")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	for _, key := range []string{"SARAFAN_BACKEND_URL", "SARAFAN_AUTO_PUBLISH", "SARAFAN_BRIDGE_ENABLED", "SARAFAN_BRIDGE_PORT"} {
		t.Setenv(key, "")
	}
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("bridge:\n  enabled: true\n  port: 9555\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	settings := SettingsFromConfig(cfg)
	if !settings.Enabled || settings.Address() != "127.0.0.1:9555" {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected default body limit, got %d", settings.MaxBodyBytes)
	}
	if defaults := SettingsFromConfig(nil); defaults.Enabled || defaults.Port != config.DefaultBridgePort {
		t.Fatalf("unexpected nil-config settings %+v", defaults)
	}
}
