package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajchinnag/Death-Switch/internal/auth"
	"github.com/rajchinnag/Death-Switch/internal/killswitch"
)

type seen struct {
	method, path, query, auth, ctype string
	body                             []byte
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []seen
	code  int
	reply string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, seen{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization"), r.Header.Get("Content-Type"), body})
	code, reply := f.code, f.reply
	f.mu.Unlock()
	if code == 0 {
		code = http.StatusOK
	}
	if reply == "" {
		reply = `{"status":"success"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(reply))
}

func (f *fakeAPI) last() seen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func run(t *testing.T, api *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	if api != nil {
		args = append([]string{"--api", api.URL}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsHitEndpoints(t *testing.T) {
	fake := &fakeAPI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cases := []struct {
		args   []string
		method string
		path   string
	}{
		{[]string{"status"}, http.MethodGet, "/status"},
		{[]string{"checkin"}, http.MethodPost, "/record-activity"},
		{[]string{"start"}, http.MethodPost, "/start-trigger"},
		{[]string{"log", "-n", "5"}, http.MethodGet, "/activity-log"},
		{[]string{"recipients", "list"}, http.MethodGet, "/recipients"},
		{[]string{"documents", "list"}, http.MethodGet, "/documents"},
	}
	for _, tc := range cases {
		out, err := run(t, srv, "", tc.args...)
		require.NoError(t, err, tc.args)
		got := fake.last()
		assert.Equal(t, tc.method, got.method)
		assert.Equal(t, tc.path, got.path)
		assert.Contains(t, out, `"status": "success"`)
	}
	_, _ = run(t, srv, "", "log", "-n", "5")
	assert.Equal(t, "limit=5", fake.last().query)
}

func TestKillReadsCodeFromStdin(t *testing.T) {
	fake := &fakeAPI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := run(t, srv, "s3cret-code\n", "kill")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(fake.last().body, &body))
	assert.Equal(t, "s3cret-code", body["code"])
}

func TestTriggerSendsToken(t *testing.T) {
	fake := &fakeAPI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := run(t, srv, "", "trigger")
	require.Error(t, err)

	_, err = run(t, srv, "", "--token", "abc", "trigger", "--reason", "drill")
	require.NoError(t, err)
	got := fake.last()
	assert.Equal(t, "/trigger-now", got.path)
	assert.Equal(t, "Bearer abc", got.auth)
	assert.Contains(t, string(got.body), "drill")
}

func TestErrorStatusBecomesError(t *testing.T) {
	fake := &fakeAPI{code: http.StatusConflict, reply: `{"error":"Conflict","code":409,"message":"switch is disabled"}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := run(t, srv, "", "checkin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch is disabled")
}

func TestRecipientAddAndUpload(t *testing.T) {
	fake := &fakeAPI{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := run(t, srv, "", "recipients", "add", "--name", "Ann", "--email", "ann@example.com", "--phone", "+15550001111")
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(fake.last().body, &rec))
	assert.Equal(t, "ann@example.com", rec["email"])

	path := filepath.Join(t.TempDir(), "will.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))
	_, err = run(t, srv, "", "documents", "upload", path, "-d", "my will")
	require.NoError(t, err)
	got := fake.last()
	assert.Equal(t, "/upload-document", got.path)
	assert.True(t, strings.HasPrefix(got.ctype, "multipart/form-data"))
	assert.Contains(t, string(got.body), "my will")
}

func TestHashCodeVerifies(t *testing.T) {
	out, err := run(t, nil, "open sesame\n", "hash-code", "--memory", "1024", "--time", "1")
	require.NoError(t, err)
	encoded := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	a, err := killswitch.New(encoded, 4)
	require.NoError(t, err)
	assert.Equal(t, killswitch.Valid, a.Verify(context.Background(), "open sesame").Result)
}

func TestTokenMintsOperatorToken(t *testing.T) {
	out, err := run(t, nil, "", "token", "--secret", "s", "--subject", "me")
	require.NoError(t, err)
	claims, err := auth.ParseOperatorToken(strings.TrimSpace(out), []byte("s"))
	require.NoError(t, err)
	assert.Equal(t, "me", claims.Subject)
}
