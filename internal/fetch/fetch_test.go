package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (l *countingLimiter) Acquire(_ context.Context, name string, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[name] += n
	return l.err
}

func TestGetJSON_Success(t *testing.T) {
	var gotUA, gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "/api/search/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 2, "results": [{"id": 1}, {"id": 2}]}`))
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	client := New(&Options{
		Service:   "courtlistener",
		BaseURL:   server.URL + "/api",
		UserAgent: "test-agent",
		Headers:   map[string]string{"Authorization": "Token abc"},
	}, limiter, nil)

	var out map[string]any
	err := client.GetJSON(context.Background(), "/search/", map[string][]string{"q": {"immigration detention"}}, &out)
	require.NoError(t, err)

	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "Token abc", gotAuth)
	assert.Equal(t, "immigration detention", gotQuery)
	assert.Equal(t, 1, limiter.calls["courtlistener"])
	n, ok := Int("count", out)
	assert.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestPostJSON_SendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.EqualValues(t, 3, body["page"])
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := New(&Options{BaseURL: server.URL}, nil, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.PostJSON(context.Background(), "search", map[string]any{"page": 3}, &out))
	assert.True(t, out.OK)
}

func TestDo_HTTPErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(&Options{BaseURL: server.URL}, nil, nil)
	result, err := client.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "404")
}

func TestDo_InvalidURL(t *testing.T) {
	client := New(nil, nil, nil)
	_, err := client.Get(context.Background(), "not-a-valid-url", nil)
	require.Error(t, err)

	var fetchErr *Error
	assert.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "invalid URL")
}

func TestDo_LimiterErrorStopsRequest(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
	}))
	defer server.Close()

	limiter := &countingLimiter{err: errors.New("unknown limiter")}
	client := New(&Options{Service: "nope", BaseURL: server.URL}, limiter, nil)
	_, err := client.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, StatusCode(err))
}

func TestGetJSON_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := New(&Options{BaseURL: server.URL}, nil, nil)
	var out map[string]any
	err := client.GetJSON(context.Background(), "/", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode JSON")
}

func TestResolve_AbsoluteURLUnchanged(t *testing.T) {
	client := New(&Options{BaseURL: "https://api.example.com/v2"}, nil, nil)

	got, err := client.Resolve("http://data.example.org/file.zip", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://data.example.org/file.zip", got)

	got, err = client.Resolve("/search/", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v2/search/", got)
}

func TestBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(&Options{BaseURL: server.URL, Username: "alice", Password: "secret"}, nil, nil)
	_, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText(`the <mark>immigration</mark>   detention <em>case</em><script>x()</script>`)
	require.NoError(t, err)
	assert.Equal(t, "the immigration detention case", text)

	empty, err := ExtractText("   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "plain text", StripHTML("plain\n\ttext"))
	assert.Equal(t, "a b", StripHTML("<p>a</p>\n<p>b</p>"))
}
