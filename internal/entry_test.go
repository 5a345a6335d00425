package internal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/session"
	"github.com/starford/hexobridge/internal/settings"
	"github.com/starford/hexobridge/internal/sse"
	"github.com/starford/hexobridge/internal/supervisor/fake"
	"github.com/starford/hexobridge/internal/testutil"
)

func testConfig(t *testing.T, backend string) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Vault.Path = t.TempDir()
	cfg.Settings.Backend = backend
	cfg.Settings.Path = filepath.Join(t.TempDir(), "state", "settings."+backend)
	cfg.Panel.OpenBrowser = false
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestOpenSettingsStore(t *testing.T) {
	for _, backend := range []string{SettingsBackendFile, SettingsBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			store, closeFn, err := OpenSettingsStore(cfg.Settings)
			if err != nil {
				t.Fatal(err)
			}
			defer closeFn()

			ctx := context.Background()
			want := settings.Settings{GeneratorRoot: "/blog", LauncherPath: "/usr/bin/npx", PreviewPort: 4001}
			if err := store.Save(ctx, want); err != nil {
				t.Fatal(err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}

	if _, _, err := OpenSettingsStore(SettingsConfig{Backend: "etcd", Path: "x"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestOpen_MissingVault(t *testing.T) {
	cfg := testConfig(t, SettingsBackendFile)
	cfg.Vault.Path = filepath.Join(t.TempDir(), "missing")
	if _, err := Open(context.Background(), cfg, nil, nil, testutil.Logger()); err == nil {
		t.Error("expected error for a missing vault")
	}
}

func testHandler(t *testing.T) (http.Handler, *Env, *fake.Spawner, *Config) {
	t.Helper()
	cfg := testConfig(t, SettingsBackendFile)
	spawner := &fake.Spawner{ExitOnSignal: true}

	broker := sse.NewBroker()
	t.Cleanup(broker.Close)
	rec := notify.NewRecorder(10)

	env, err := Open(context.Background(), cfg, rec, broker, testutil.Logger(), WithSpawner(spawner))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(env.Close)

	st := env.Session.Settings()
	st.GeneratorRoot = t.TempDir()
	st.LauncherPath = "/usr/bin/npx"
	if err := env.Session.UpdateSettings(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	return NewHandler(cfg, env.Session, rec, broker), env, spawner, cfg
}

func TestHandler_Health(t *testing.T) {
	h, _, _, _ := testHandler(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
			t.Errorf("%s = %d %s", path, w.Code, w.Body.String())
		}
	}
}

func TestHandler_APIMounted(t *testing.T) {
	h, _, _, _ := testHandler(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/api/status = %d", w.Code)
	}
}

func TestHandler_PanelLifecycle(t *testing.T) {
	h, env, spawner, cfg := testHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	testutil.WriteFile(t, cfg.Vault.Path, "post.md", "# post")
	testutil.WriteFile(t, cfg.Vault.Path, "assets/post/.keep", "")

	if _, err := env.Session.Preview(context.Background(), "post.md"); err != nil {
		t.Fatal(err)
	}
	_ = spawner.Last().WriteStdout(session.ReadyMarker)

	var id string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if inst, ok := env.Session.Panel().Current(); ok {
			id = inst.ID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("panel never opened")
	}

	resp, err := http.Get(srv.URL + "/panel?id=" + id)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `src="http://127.0.0.1:4000"`) {
		t.Errorf("panel page = %s", body)
	}

	resp, err = http.Post(srv.URL+"/panel/"+id+"/close", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("close = %d, want 204", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/panel/"+id+"/close", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close = %d, want 404", resp.StatusCode)
	}
}
