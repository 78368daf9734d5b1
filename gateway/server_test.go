package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assistgen/cache"
	"assistgen/completion"
	"assistgen/search"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeStreamer struct {
	chunks []*completion.CompletionChunk
	err    error

	gotPartition cache.Partition
	gotConv      completion.Conversation
}

func (f *fakeStreamer) Stream(_ context.Context, p cache.Partition, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
	f.gotPartition = p
	f.gotConv = conv
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *completion.CompletionChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type fakeSearch struct {
	events   []search.Event
	gotQuery string
}

func (f *fakeSearch) Stream(_ context.Context, question string) (<-chan search.Event, error) {
	f.gotQuery = question
	ch := make(chan search.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func post(t *testing.T, h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const hiBody = `{"messages":[{"role":"user","content":"hi"}]}`

func TestChatStreamsEvents(t *testing.T) {
	chat := &fakeStreamer{chunks: []*completion.CompletionChunk{
		completion.ContentChunk("h"),
		completion.ContentChunk("i"),
		completion.DoneChunk(2),
	}}
	srv := New(Options{Chat: chat, Reason: &fakeStreamer{}})

	w := post(t, srv.Handler(), "/chat", hiBody, map[string]string{HeaderUserID: "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "data: \"h\"\n\ndata: \"i\"\n\n", w.Body.String())

	assert.Equal(t, cache.NewPartition(PrefixChat, "u1"), chat.gotPartition)
	assert.Equal(t, completion.Conversation{{Role: completion.RoleUser, Content: "hi"}}, chat.gotConv)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestReasonUsesOwnPartition(t *testing.T) {
	reason := &fakeStreamer{chunks: []*completion.CompletionChunk{completion.ContentChunk("ok")}}
	srv := New(Options{Chat: &fakeStreamer{}, Reason: reason})

	w := post(t, srv.Handler(), "/reason", hiBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cache.NewPartition(PrefixReason, cache.AnonymousUser), reason.gotPartition)
}

func TestErrorChunkSharesFraming(t *testing.T) {
	chat := &fakeStreamer{chunks: []*completion.CompletionChunk{
		completion.ContentChunk("par"),
		completion.ErrorChunk(errors.New("connection reset")),
	}}
	srv := New(Options{Chat: chat})

	w := post(t, srv.Handler(), "/chat", hiBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: \"par\"\n\ndata: \"\\n\\n[Error] connection reset\"\n\n", w.Body.String())
}

func TestNoHTMLEscaping(t *testing.T) {
	chat := &fakeStreamer{chunks: []*completion.CompletionChunk{completion.ContentChunk("<b>你好</b> & more")}}
	srv := New(Options{Chat: chat})

	w := post(t, srv.Handler(), "/chat", hiBody, nil)
	assert.Equal(t, "data: \"<b>你好</b> & more\"\n\n", w.Body.String())
}

func TestValidation(t *testing.T) {
	srv := New(Options{Chat: &fakeStreamer{}})
	for name, body := range map[string]string{
		"empty messages": `{"messages":[]}`,
		"missing":        `{}`,
		"bad role":       `{"messages":[{"role":"robot","content":"hi"}]}`,
		"not json":       `hello`,
	} {
		w := post(t, srv.Handler(), "/chat", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, name)
		assert.Contains(t, w.Body.String(), `"detail"`, name)
	}
}

func TestReservedUserIDRejected(t *testing.T) {
	chat := &fakeStreamer{chunks: []*completion.CompletionChunk{completion.ContentChunk("x")}}
	srv := New(Options{Chat: chat})

	w := post(t, srv.Handler(), "/chat", hiBody, map[string]string{HeaderUserID: cache.AnonymousUser})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"detail"`)
	assert.Nil(t, chat.gotConv)
}

func TestPreStreamFailure(t *testing.T) {
	chat := &fakeStreamer{err: completion.ErrUpstreamUnavailable}
	srv := New(Options{Chat: chat})

	w := post(t, srv.Handler(), "/chat", hiBody, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"upstream unavailable"}`, w.Body.String())
}

func TestSearchStream(t *testing.T) {
	s := &fakeSearch{events: []search.Event{
		{Results: &search.Results{
			Type:    search.ResultsEventType,
			Total:   1,
			Query:   "go",
			Results: []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}},
		}},
		{Chunk: completion.ContentChunk("answer")},
	}}
	srv := New(Options{Search: s})

	body := `{"messages":[{"role":"user","content":"what is go"},{"role":"user","content":"ignored"}]}`
	w := post(t, srv.Handler(), "/search", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "what is go", s.gotQuery)

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"search_results","total":1,"query":"go","results":[{"title":"Go","url":"https://go.dev","snippet":"The Go language"}]}`,
		strings.TrimPrefix(frames[0], "data: "))
	assert.Equal(t, `data: "answer"`, frames[1])
}

func TestSearchNotConfigured(t *testing.T) {
	srv := New(Options{})
	w := post(t, srv.Handler(), "/search", hiBody, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealth(t *testing.T) {
	srv := New(Options{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New(Options{})
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "assistgen_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	srv := New(Options{Chat: &fakeStreamer{}})
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	srv := New(Options{StaticDir: dir})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings/profile", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>app</html>", w.Body.String())
}
