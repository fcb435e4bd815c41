package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/compass/internal/config"
	"github.com/soyeahso/compass/internal/domain"
)

// fakeBackend serves the conversation and auth endpoints the commands use.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agent/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{
			{"id": 7, "title": "Planning", "created_at": "2026-03-01T10:00:00Z"},
			{"id": 3, "title": "Groceries", "created_at": "2026-02-01T10:00:00Z"},
		})
	})
	mux.HandleFunc("GET /api/agent/conversations/7", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{
			"id": 7, "title": "Planning", "created_at": "2026-03-01T10:00:00Z",
			"messages": []map[string]any{
				{"id": 1, "role": "user", "content": "what is on today?", "created_at": "2026-03-01T10:00:00Z"},
				{"id": 2, "role": "assistant", "content": "Two meetings.", "created_at": "2026-03-01T10:00:01Z"},
			},
		})
	})
	mux.HandleFunc("GET /api/agent/conversations/99", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeTestJSON(w, map[string]any{"detail": "Conversation not found"})
	})
	mux.HandleFunc("DELETE /api/agent/conversations/7", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/agent/conversations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeTestJSON(w, map[string]any{"id": 12, "title": body["title"], "created_at": "2026-03-02T10:00:00Z"})
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			writeTestJSON(w, map[string]any{"detail": "Incorrect email or password"})
			return
		}
		writeTestJSON(w, map[string]any{"access_token": "tok-abc", "token_type": "bearer"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// runCLI executes the root command in an isolated home and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log-level", "silent"}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setupHome(t *testing.T, backendURL string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("COMPASS_HOME", home)
	t.Setenv("COMPASS_API_URL", backendURL)
	t.Setenv("COMPASS_API_TOKEN", "")
	t.Setenv("COMPASS_GATEWAY_TOKEN", "")
	return home
}

func TestConversationsListAndOffline(t *testing.T) {
	backend := fakeBackend(t)
	setupHome(t, backend.URL)

	out, err := runCLI(t, "", "conversations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Planning")
	assert.Contains(t, out, "Groceries")

	// The online listing filled the cache.
	out, err = runCLI(t, "", "conv", "list", "--offline", "--json")
	require.NoError(t, err)

	var convs []domain.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &convs))
	require.Len(t, convs, 2)
	assert.Equal(t, domain.ID("7"), convs[0].ID)
}

func TestConversationsShowMissing(t *testing.T) {
	backend := fakeBackend(t)
	setupHome(t, backend.URL)

	_, err := runCLI(t, "", "conversations", "show", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conversation not found")
}

func TestConversationsExport(t *testing.T) {
	backend := fakeBackend(t)
	setupHome(t, backend.URL)

	out, err := runCLI(t, "", "conversations", "export", "7", "--format", "md")
	require.NoError(t, err)
	assert.Contains(t, out, "# Planning")
	assert.Contains(t, out, "what is on today?")
	assert.Contains(t, out, "Two meetings.")

	dir := t.TempDir()
	_, err = runCLI(t, "", "conversations", "export", "7", "-f", "json", "-o", dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "conversation-7.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "Planning"`)

	_, err = runCLI(t, "", "conversations", "export", "7", "-f", "pdf")
	require.Error(t, err)
}

func TestConversationsSearchUsesCache(t *testing.T) {
	backend := fakeBackend(t)
	setupHome(t, backend.URL)

	_, err := runCLI(t, "", "conversations", "show", "7")
	require.NoError(t, err)

	out, err := runCLI(t, "", "conversations", "search", "meetings")
	require.NoError(t, err)
	assert.Contains(t, out, "Planning")

	out, err = runCLI(t, "", "conversations", "search", "zebra")
	require.NoError(t, err)
	assert.Contains(t, out, "No matches.")
}

func TestConversationsCreateAndDelete(t *testing.T) {
	backend := fakeBackend(t)
	setupHome(t, backend.URL)

	out, err := runCLI(t, "", "conversations", "create", "--title", "Trip")
	require.NoError(t, err)
	assert.Contains(t, out, "Created conversation 12 (Trip)")

	out, err = runCLI(t, "", "conversations", "delete", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted conversation 7")
}

func TestLoginSavesToken(t *testing.T) {
	backend := fakeBackend(t)
	home := setupHome(t, backend.URL)
	tokenPath := config.PathsAt(home).Token

	_, err := runCLI(t, "wrong\n", "login", "--email", "a@b.c", "--password-stdin")
	require.Error(t, err)
	assert.NoFileExists(t, tokenPath)

	_, err = runCLI(t, "a@b.c\nhunter2\n", "login")
	require.NoError(t, err)
	data, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc\n", string(data))

	_, err = runCLI(t, "", "logout")
	require.NoError(t, err)
	assert.NoFileExists(t, tokenPath)
}

func TestConfigSetGetUnset(t *testing.T) {
	setupHome(t, "http://localhost:8000")

	_, err := runCLI(t, "", "config", "set", "gateway.port", "19000")
	require.NoError(t, err)

	out, err := runCLI(t, "", "config", "get", "gateway.port")
	require.NoError(t, err)
	assert.Equal(t, "19000\n", out)

	out, err = runCLI(t, "", "config", "get", "gateway")
	require.NoError(t, err)
	assert.Contains(t, out, "port: 19000")

	_, err = runCLI(t, "", "config", "unset", "gateway.port")
	require.NoError(t, err)
	_, err = runCLI(t, "", "config", "get", "gateway.port")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	home := setupHome(t, "http://localhost:8000")

	out, err := runCLI(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Config OK.")

	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("gateway:\n  bind: everywhere\n"), 0o600))
	out, err = runCLI(t, "", "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "gateway.bind")
}

func TestStatusOffline(t *testing.T) {
	setupHome(t, "http://localhost:8000")

	out, err := runCLI(t, "", "status", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "Config:  not found (using defaults)")
	assert.Contains(t, out, "Backend: http://localhost:8000 (not checked)")
	assert.Contains(t, out, "not signed in")
	assert.Contains(t, out, "generated per run")
}

func TestChatREPLContinuesNewConversation(t *testing.T) {
	var mu sync.Mutex
	var sentIDs []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sentIDs = append(sentIDs, fmt.Sprint(body["conversation_id"]))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: noted\n\ndata: [DONE]\n\n")
	})
	mux.HandleFunc("GET /api/agent/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{
			{"id": 21, "title": "hello", "created_at": "2026-03-03T10:00:00Z"},
		})
	})
	mux.HandleFunc("GET /api/agent/conversations/21", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{
			"id": 21, "title": "hello", "created_at": "2026-03-03T10:00:00Z",
			"messages": []map[string]any{
				{"id": 1, "role": "user", "content": "hello", "created_at": "2026-03-03T10:00:00Z"},
				{"id": 2, "role": "assistant", "content": "noted", "created_at": "2026-03-03T10:00:01Z"},
			},
		})
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)
	setupHome(t, backend.URL)

	out, err := runCLI(t, "hello\nand again\n/quit\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "noted")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"<nil>", "21"}, sentIDs)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"-3", -3},
		{"1.5", 1.5},
		{"http://x", "http://x"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, domain.ID("42"), id)

	_, err = parseID("  ")
	assert.Error(t, err)
}

func TestReadLine(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("first\nlast"))

	line, err := readLine(br)
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = readLine(br)
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = readLine(br)
	assert.Error(t, err)
}

func TestWriteConversationTable(t *testing.T) {
	var buf bytes.Buffer
	writeConversationTable(&buf, nil, "")
	assert.Equal(t, "No conversations.\n", buf.String())

	buf.Reset()
	writeConversationTable(&buf, []domain.Conversation{
		{ID: "7", Title: "Planning", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "3", Title: "Groceries"},
	}, "3")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "  7"))
	assert.True(t, strings.HasPrefix(lines[2], "* 3"))
	assert.Contains(t, lines[2], "-")
}
