package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	sessionsRoot := t.TempDir()
	srv := newServer(config{
		Addr:          ":0",
		SessionsRoot:  sessionsRoot,
		WatchDebounce: 20 * time.Millisecond,
	})
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, sessionsRoot
}

func postForm(t *testing.T, ts *httptest.Server, path string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding %s response: %v", path, err)
	}
	return resp, body
}

func getJSON(t *testing.T, ts *httptest.Server, path string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decoding %s response: %v", path, err)
	}
	return resp
}

func errorKindOf(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	kind, _ := errObj["kind"].(string)
	return kind
}

func sessionQuery(secretKey, projectName string) string {
	return "secret_key=" + url.QueryEscape(secretKey) + "&project_name=" + url.QueryEscape(projectName)
}

func TestLoginValidatesSecretKey(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, bad := range []string{"123456789", "12345678901", "12345abcde", ""} {
		resp, body := postForm(t, ts, "/login", url.Values{
			"secret_key":   {bad},
			"project_name": {"demo"},
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("login(%q) status = %d, want 400", bad, resp.StatusCode)
		}
		if kind := errorKindOf(t, body); kind != "invalid_identity" {
			t.Errorf("login(%q) kind = %q", bad, kind)
		}
	}

	resp, body := postForm(t, ts, "/login", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid login status = %d", resp.StatusCode)
	}
	sessionID, _ := body["session_id"].(string)
	if !strings.HasPrefix(sessionID, "1234567890_") {
		t.Errorf("session_id = %q", sessionID)
	}
	if redirect, _ := body["redirect"].(string); !strings.Contains(redirect, "secret_key=1234567890") {
		t.Errorf("redirect = %q", redirect)
	}
}

func TestSaveReadDeleteLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	q := sessionQuery("1234567890", "demo")

	resp, _ := postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"src/a.txt"},
		"content":      {"hello"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	var content fileContent
	resp = getJSON(t, ts, "/api/file?"+q+"&path=src/a.txt", &content)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}
	if content.Content != "hello" || content.Encoding != "utf-8" {
		t.Errorf("read back %+v", content)
	}

	var tree FileTreeNode
	getJSON(t, ts, "/api/files?"+q, &tree)
	if len(tree.Children) != 1 || tree.Children[0].Name != "src" {
		t.Errorf("tree = %+v", tree)
	}

	resp, _ = postForm(t, ts, "/api/delete", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"src/a.txt"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	var errBody map[string]any
	resp = getJSON(t, ts, "/api/file?"+q+"&path=src/a.txt", &errBody)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("read after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestTraversalPathsAreRejectedOverHTTP(t *testing.T) {
	ts, sessionsRoot := newTestServer(t)

	resp, body := postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"../outside.txt"},
		"content":      {"escaped"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("save traversal status = %d, want 400", resp.StatusCode)
	}
	if kind := errorKindOf(t, body); kind != "path_escape" {
		t.Errorf("kind = %q, want path_escape", kind)
	}
	if _, err := os.Stat(filepath.Join(sessionsRoot, "outside.txt")); !os.IsNotExist(err) {
		t.Error("traversal write landed outside the workspace")
	}
}

func TestInternalFailureDetailHidesServerPaths(t *testing.T) {
	ts, sessionsRoot := newTestServer(t)

	postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"a.txt"},
		"content":      {"x"},
	})

	// Writing beneath an existing file fails inside the OS layer with an
	// error naming the absolute workspace path; that text must not reach
	// the caller.
	resp, body := postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"a.txt/b.txt"},
		"content":      {"y"},
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("save beneath a file status = %d, want 500", resp.StatusCode)
	}
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	detail, _ := errObj["detail"].(string)
	if strings.Contains(detail, sessionsRoot) {
		t.Errorf("detail leaks a server path: %q", detail)
	}
	if strings.Contains(detail, "/tmp/") {
		t.Errorf("detail leaks an absolute path: %q", detail)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ts, _ := newTestServer(t)

	postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1111111111"},
		"project_name": {"demo"},
		"path":         {"secret.txt"},
		"content":      {"tenant one"},
	})

	var errBody map[string]any
	resp := getJSON(t, ts, "/api/file?"+sessionQuery("2222222222", "demo")+"&path=secret.txt", &errBody)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-tenant read status = %d, want 404", resp.StatusCode)
	}
}

func uploadZip(t *testing.T, ts *httptest.Server, entries map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("secret_key", "1234567890")
	mw.WriteField("project_name", "demo")
	part, err := mw.CreateFormFile("zip_file", "project.zip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(part, buildZip(t, entries)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/upload_zip", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestUploadZipEndpoint(t *testing.T) {
	ts, sessionsRoot := newTestServer(t)

	resp, _ := uploadZip(t, ts, map[string]string{"src/main.go": "package main"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	id, err := resolveIdentity(sessionsRoot, "1234567890", "demo")
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(id.Workspace, "src", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "package main" {
		t.Errorf("uploaded content = %q", got)
	}
}

func TestUploadZipSlipRejectedOverHTTP(t *testing.T) {
	ts, sessionsRoot := newTestServer(t)

	resp, body := uploadZip(t, ts, map[string]string{"../evil.txt": "escaped"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zip-slip upload status = %d, want 400", resp.StatusCode)
	}
	if kind := errorKindOf(t, body); kind != "escape_attempt" {
		t.Errorf("kind = %q, want escape_attempt", kind)
	}
	if _, err := os.Stat(filepath.Join(sessionsRoot, "evil.txt")); !os.IsNotExist(err) {
		t.Error("zip-slip entry escaped over HTTP")
	}
}

func TestCloneRequiresRepoURL(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := postForm(t, ts, "/clone_repo", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("clone status = %d, want 502", resp.StatusCode)
	}
	if kind := errorKindOf(t, body); kind != "clone_failure" {
		t.Errorf("kind = %q", kind)
	}
}

func TestCommitEndpointWithoutRepository(t *testing.T) {
	ts, _ := newTestServer(t)
	postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"a.txt"},
		"content":      {"x"},
	})
	resp, body := postForm(t, ts, "/api/git_commit", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"message":      {"snapshot"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("commit status = %d, want 404", resp.StatusCode)
	}
	if kind := errorKindOf(t, body); kind != "not_found" {
		t.Errorf("kind = %q", kind)
	}
}

func dialRealtime(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestRealtimeGreetingAndPing(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts, sessionQuery("1234567890", "demo"))

	if ev := readEvent(t, conn); ev.Type != "status" || ev.Payload != "connected" {
		t.Fatalf("greeting = %+v", ev)
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != "pong" {
		t.Errorf("ping reply = %+v", ev)
	}
}

func TestRealtimeReceivesSaveBroadcast(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialRealtime(t, ts, sessionQuery("1234567890", "demo"))
	readEvent(t, conn) // greeting

	postForm(t, ts, "/api/save", url.Values{
		"secret_key":   {"1234567890"},
		"project_name": {"demo"},
		"path":         {"src/a.txt"},
		"content":      {"x"},
	})

	// The save broadcast arrives first; a watcher change event may follow.
	if ev := readEvent(t, conn); ev.Type != "status" || ev.Payload != "Saved src/a.txt" {
		t.Errorf("broadcast = %+v", ev)
	}
}

func TestRealtimeRejectsInvalidIdentity(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + sessionQuery("short", "demo")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial with invalid identity succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("handshake response = %+v, want 400", resp)
	}
}
