package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/parley/internal/admin"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

const testSecret = "daemon-test-secret-0123456789"

func testEnv(t *testing.T) string {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "parley-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	t.Setenv("PARLEY_DATA_DIR", tmpDir)
	t.Setenv("PARLEY_LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("PARLEY_JWT_SECRET", testSecret)
	t.Setenv("PARLEY_SHUTDOWN_TIMEOUT", "2s")
	return tmpDir
}

func TestDaemonLifecycle(t *testing.T) {
	dataDir := testEnv(t)

	var (
		ln      net.Listener
		machine *status.Machine
		cfg     *config.Config
	)
	app := fxtest.New(t,
		fx.NopLogger,
		Module(Params{SocketPath: filepath.Join(dataDir, "d.sock")}),
		fx.Populate(&ln, &machine, &cfg),
	)
	app.RequireStart()

	if machine.Current() != status.Serving {
		t.Fatalf("state = %s, want SERVING", machine.Current())
	}

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if health["status"] != "SERVING" {
		t.Errorf("healthz status = %v, want SERVING", health["status"])
	}

	// Admin socket answers.
	client, err := admin.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chatID, err := client.OpenDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("OpenDirect: %v", err)
	}
	if chatID == "" {
		t.Error("empty chat id")
	}

	// A client session connects and is drained on stop.
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	ws, wsResp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws?token="+tok, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	_ = wsResp.Body.Close()
	defer func() { _ = ws.Close() }()

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := stats.GetFields()["chats"].GetNumberValue(); got != 1 {
		t.Errorf("chats = %v, want 1", got)
	}

	app.RequireStop()

	if machine.Current() != status.Stopped {
		t.Errorf("state = %s, want STOPPED", machine.Current())
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("session still open after stop")
	}
	if _, err := os.Stat(filepath.Join(dataDir, lock.FileName)); !os.IsNotExist(err) {
		t.Errorf("lock file not released: %v", err)
	}
	if _, err := os.Stat(cfg.SocketPath()); !os.IsNotExist(err) {
		t.Errorf("admin socket not removed: %v", err)
	}
}

func TestDaemonRefusesHeldDataDir(t *testing.T) {
	dataDir := testEnv(t)

	held, err := lock.Acquire(dataDir, "elsewhere:1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	app := fx.New(fx.NopLogger, Module(Params{SocketPath: filepath.Join(dataDir, "d.sock")}))
	err = app.Err()
	if err == nil {
		t.Fatal("expected startup error while data dir is locked")
	}
	var lockErr *lock.HeldError
	if !errors.As(err, &lockErr) {
		t.Errorf("expected HeldError, got %T: %v", err, err)
	}
}

func TestDaemonRejectsInvalidConfig(t *testing.T) {
	testEnv(t)
	t.Setenv("PARLEY_JWT_SECRET", "short")

	app := fx.New(fx.NopLogger, Module(Params{}))
	if app.Err() == nil {
		t.Fatal("expected startup error for short jwt secret")
	}
}
