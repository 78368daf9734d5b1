package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"assistgen/completion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hi = completion.Conversation{{Role: completion.RoleUser, Content: "hi"}}

func sseUpstream(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "deepseek-chat", req.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetStream(t *testing.T) {
	srv := sseUpstream(t,
		`data: {"choices":[{"delta":{"content":"h"},"finish_reason":""}]}`,
		`data: {"choices":[{"delta":{"content":"i"},"finish_reason":""}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)
	s := New(srv.URL+"/v1", "sk-test", "deepseek-chat")

	ch, err := s.GetStream(context.Background(), hi)
	require.NoError(t, err)

	var kinds []completion.ChunkKind
	var text string
	for c := range ch {
		kinds = append(kinds, c.Kind)
		text += c.Content
	}
	assert.Equal(t, "hi", text)
	assert.Equal(t, []completion.ChunkKind{completion.ChunkContent, completion.ChunkContent, completion.ChunkDone}, kinds)
}

func TestGetStreamSkipsMalformedLines(t *testing.T) {
	srv := sseUpstream(t,
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {not json`,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: [DONE]`,
	)
	s := New(srv.URL+"/v1", "sk-test", "deepseek-chat")

	ch, err := s.GetStream(context.Background(), hi)
	require.NoError(t, err)

	text, err := completion.Collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestGetStreamEOFWithoutDone(t *testing.T) {
	srv := sseUpstream(t, `data: {"choices":[{"delta":{"content":"x"}}]}`)
	s := New(srv.URL+"/v1", "sk-test", "deepseek-chat")

	ch, err := s.GetStream(context.Background(), hi)
	require.NoError(t, err)

	var last *completion.CompletionChunk
	for c := range ch {
		last = c
	}
	require.NotNil(t, last)
	assert.Equal(t, completion.ChunkDone, last.Kind)
}

func TestGetStreamUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := New(srv.URL, "sk-test", "deepseek-chat")
	_, err := s.GetStream(context.Background(), hi)
	require.Error(t, err)

	var upErr *completion.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.ErrorIs(t, err, completion.ErrUpstreamUnavailable)
}

func TestGetStreamConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := New(url, "sk-test", "deepseek-chat")
	_, err := s.GetStream(context.Background(), hi)
	assert.ErrorIs(t, err, completion.ErrUpstreamUnavailable)
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	s := New(srv.URL, "sk-test", "deepseek-chat", WithTemperature(0.2))
	out, err := s.Generate(context.Background(), hi)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestCallTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		tools := raw["tools"].([]any)
		require.Len(t, tools, 1)
		choice := raw["tool_choice"].(map[string]any)
		assert.Equal(t, "search", choice["function"].(map[string]any)["name"])

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"go 1.25\"}"}}
		]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	s := New(srv.URL, "sk-test", "deepseek-chat")
	resp, err := s.CallTools(context.Background(), hi, []completion.Tool{{
		Name:       "search",
		Parameters: map[string]any{"type": "object"},
	}}, "search")
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, completion.ToolCall{ID: "call_1", Name: "search", Arguments: `{"query":"go 1.25"}`}, resp.ToolCalls[0])
}

func TestParseSSELine(t *testing.T) {
	content, done, _, err := parseSSELine([]byte(`data: [DONE]`))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, content)

	_, _, usage, err := parseSSELine([]byte(`data: {"choices":[],"usage":{"total_tokens":42}}`))
	require.NoError(t, err)
	assert.Equal(t, 42, usage)

	_, _, _, err = parseSSELine([]byte(`data: nope`))
	assert.Error(t, err)
}
