package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trapdoor-sh/trapdoor/internal/gateway"
	"github.com/trapdoor-sh/trapdoor/internal/security"
)

const testToken = "cafebabecafebabecafebabecafebabe"

func newTestServer(t *testing.T, level security.Level) *httptest.Server {
	t.Helper()

	store := security.NewMemoryTokenStore()
	store.Set(testToken)

	grants, err := security.NewGrantIssuer()
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	auth := security.NewAuthenticator(store, level, grants)
	resolver := security.NewPathResolver(nil, nil)
	fsGw := gateway.NewFSGateway(resolver, 1<<20, logger)
	execGw := gateway.NewExecGateway(security.DefaultCommandRules(), resolver,
		5*time.Second, 10*time.Second, 1<<20, logger)
	dispatcher := gateway.NewDispatcher(auth, grants, fsGw, execGw)

	srv := NewServer("127.0.0.1", 0, dispatcher, execGw, auth, store, "test", logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Non-JSON bodies (plain-text 405s) leave payload nil.
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthUnauthenticated(t *testing.T) {
	ts := newTestServer(t, security.LevelSolid)

	resp, payload := doRequest(t, ts, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["access_level"] != "solid" {
		t.Errorf("access_level = %v", payload["access_level"])
	}
	perms := payload["permissions"].(map[string]any)
	if perms["write"] != true || perms["delete"] != false {
		t.Errorf("permissions = %v", perms)
	}
	if payload["token_fingerprint"] == "" {
		t.Error("expected a token fingerprint")
	}
}

func TestMissingAuthHeader(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, payload := doRequest(t, ts, http.MethodGet, "/fs/ls?path=/tmp", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if payload["kind"] != "unauthenticated" {
		t.Errorf("kind = %v", payload["kind"])
	}
}

func TestWrongToken(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, _ := doRequest(t, ts, http.MethodGet, "/fs/ls?path=/tmp", "not-the-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWriteForbiddenAtLimited(t *testing.T) {
	ts := newTestServer(t, security.LevelLimited)

	resp, payload := doRequest(t, ts, http.MethodPost, "/fs/write", testToken, map[string]any{
		"path": "/tmp/x", "content": "hi",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if payload["kind"] != "forbidden" {
		t.Errorf("kind = %v", payload["kind"])
	}
}

func TestWriteReadFlow(t *testing.T) {
	ts := newTestServer(t, security.LevelSolid)
	path := filepath.Join(t.TempDir(), "note.txt")

	resp, payload := doRequest(t, ts, http.MethodPost, "/fs/write", testToken, map[string]any{
		"path": path, "content": "hello over http",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d (%v)", resp.StatusCode, payload)
	}

	resp, payload = doRequest(t, ts, http.MethodGet, "/fs/read?path="+path, testToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}
	if payload["content"] != "hello over http" {
		t.Errorf("content = %v", payload["content"])
	}
}

func TestListFlow(t *testing.T) {
	ts := newTestServer(t, security.LevelLimited)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	resp, payload := doRequest(t, ts, http.MethodGet, "/fs/ls?path="+dir, testToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	entries := payload["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
	entry := entries[0].(map[string]any)
	if entry["name"] != "a.txt" || entry["type"] != "file" {
		t.Errorf("entry = %v", entry)
	}
}

func TestMkdirConflict(t *testing.T) {
	ts := newTestServer(t, security.LevelSolid)
	path := filepath.Join(t.TempDir(), "d")

	resp, _ := doRequest(t, ts, http.MethodPost, "/fs/mkdir", testToken, map[string]any{"path": path})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first mkdir status = %d", resp.StatusCode)
	}
	resp, payload := doRequest(t, ts, http.MethodPost, "/fs/mkdir", testToken, map[string]any{"path": path})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second mkdir status = %d, want 409", resp.StatusCode)
	}
	if payload["kind"] != "already_exists" {
		t.Errorf("kind = %v", payload["kind"])
	}
}

func TestRemoveRequiresFull(t *testing.T) {
	ts := newTestServer(t, security.LevelSolid)

	resp, _ := doRequest(t, ts, http.MethodPost, "/fs/rm", testToken, map[string]any{"path": "/tmp/whatever"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestExecFlow(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, payload := doRequest(t, ts, http.MethodPost, "/exec", testToken, map[string]any{
		"cmd": []string{"echo", "from-http"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%v)", resp.StatusCode, payload)
	}
	if payload["exit_code"] != float64(0) {
		t.Errorf("exit_code = %v", payload["exit_code"])
	}
	if payload["stdout"] != "from-http\n" {
		t.Errorf("stdout = %q", payload["stdout"])
	}
}

func TestExecDenied(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, payload := doRequest(t, ts, http.MethodPost, "/exec", testToken, map[string]any{
		"cmd": []string{"sudo", "id"},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if payload["kind"] != "denied" {
		t.Errorf("kind = %v", payload["kind"])
	}
}

func TestExecTimeoutCarriesPartialOutput(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, payload := doRequest(t, ts, http.MethodPost, "/exec", testToken, map[string]any{
		"cmd":         []string{"sh", "-c", "echo early; sleep 10"},
		"timeout_sec": 1,
	})
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want 408", resp.StatusCode)
	}
	if payload["kind"] != "timed_out" {
		t.Errorf("kind = %v", payload["kind"])
	}
	if payload["stdout"] != "early\n" {
		t.Errorf("stdout = %q, want partial output", payload["stdout"])
	}
}

func TestExecMissingCmd(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, _ := doRequest(t, ts, http.MethodPost, "/exec", testToken, map[string]any{"cwd": "/tmp"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	resp, _ := doRequest(t, ts, http.MethodPost, "/fs/ls", testToken, map[string]any{"path": "/tmp"})
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /fs/ls status = %d, want 405", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/exec", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /exec status = %d, want 405", resp2.StatusCode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, security.LevelLimited)

	resp, _ := doRequest(t, ts, http.MethodGet, "/health", "", nil)
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}
}

func TestInvalidJSONBody(t *testing.T) {
	ts := newTestServer(t, security.LevelFull)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/fs/write", bytes.NewReader([]byte("{nope")))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
