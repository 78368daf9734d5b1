package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"assistgen/completion"
	completionmock "assistgen/completion/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeSearcher struct {
	gotQuery string
	results  []Result
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]Result, error) {
	f.gotQuery = query
	return f.results, f.err
}

func streamOf(chunks ...*completion.CompletionChunk) <-chan *completion.CompletionChunk {
	ch := make(chan *completion.CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func collect(t *testing.T, ch <-chan Event) (*Results, string) {
	t.Helper()
	first, ok := <-ch
	require.True(t, ok)
	require.NotNil(t, first.Results, "first event carries the search results")

	var b strings.Builder
	for ev := range ch {
		require.Nil(t, ev.Results)
		if ev.Chunk.Kind == completion.ChunkContent {
			b.WriteString(ev.Chunk.Content)
		}
	}
	return first.Results, b.String()
}

func TestStreamWithResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	llm := completionmock.NewMockService(ctrl)
	tools := completionmock.NewMockToolCaller(ctrl)

	tools.EXPECT().CallTools(gomock.Any(), gomock.Any(), gomock.Any(), ToolName).Return(&completion.ToolResponse{
		ToolCalls: []completion.ToolCall{{ID: "call_1", Name: ToolName, Arguments: `{"query":"go 1.25 release"}`}},
	}, nil)
	llm.EXPECT().GetStream(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
			require.Len(t, conv, 2)
			assert.Equal(t, completion.RoleSystem, conv[0].Role)
			assert.Contains(t, conv[1].Content, "Link: https://go.dev")
			assert.Contains(t, conv[1].Content, "User question: what is new in go")
			return streamOf(completion.ContentChunk("Go 1.25 "), completion.ContentChunk("shipped."), completion.DoneChunk(0)), nil
		})

	searcher := &fakeSearcher{results: []Result{{Title: "Go", URL: "https://go.dev", Snippet: "release notes"}}}
	ch, err := NewService(searcher, llm, tools, nil).Stream(context.Background(), "what is new in go")
	require.NoError(t, err)

	results, answer := collect(t, ch)
	assert.Equal(t, "go 1.25 release", searcher.gotQuery)
	assert.Equal(t, ResultsEventType, results.Type)
	assert.Equal(t, 1, results.Total)
	assert.Equal(t, "go 1.25 release", results.Query)
	assert.Empty(t, results.Error)
	assert.Equal(t, "Go 1.25 shipped.", answer)
}

func TestStreamNoResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	llm := completionmock.NewMockService(ctrl)

	llm.EXPECT().GetStream(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
			assert.Equal(t, "obscure thing", conv[1].Content)
			return streamOf(completion.ContentChunk("I know this."), completion.DoneChunk(0)), nil
		})

	searcher := &fakeSearcher{}
	ch, err := NewService(searcher, llm, nil, nil).Stream(context.Background(), "obscure thing")
	require.NoError(t, err)

	results, answer := collect(t, ch)
	assert.Equal(t, "obscure thing", searcher.gotQuery)
	assert.Equal(t, 0, results.Total)
	assert.NotNil(t, results.Results)
	assert.Equal(t, noResultsNotice+"I know this.", answer)
}

func TestStreamSearchError(t *testing.T) {
	ctrl := gomock.NewController(t)
	llm := completionmock.NewMockService(ctrl)
	tools := completionmock.NewMockToolCaller(ctrl)

	tools.EXPECT().CallTools(gomock.Any(), gomock.Any(), gomock.Any(), ToolName).Return(nil, errors.New("tools unsupported"))
	llm.EXPECT().GetStream(gomock.Any(), gomock.Any()).Return(streamOf(completion.ContentChunk("fallback"), completion.DoneChunk(0)), nil)

	searcher := &fakeSearcher{err: errors.New("quota exceeded")}
	ch, err := NewService(searcher, llm, tools, nil).Stream(context.Background(), "weather")
	require.NoError(t, err)

	results, answer := collect(t, ch)
	assert.Equal(t, "weather", searcher.gotQuery)
	assert.Equal(t, "quota exceeded", results.Error)
	assert.Equal(t, searchErrorNotice+"fallback", answer)
}

func TestStreamAnswerUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	llm := completionmock.NewMockService(ctrl)
	llm.EXPECT().GetStream(gomock.Any(), gomock.Any()).Return(nil, completion.ErrUpstreamUnavailable)

	_, err := NewService(&fakeSearcher{}, llm, nil, nil).Stream(context.Background(), "x")
	assert.ErrorIs(t, err, completion.ErrUpstreamUnavailable)
}

func TestStreamForwardsInBandError(t *testing.T) {
	ctrl := gomock.NewController(t)
	llm := completionmock.NewMockService(ctrl)
	llm.EXPECT().GetStream(gomock.Any(), gomock.Any()).Return(streamOf(
		completion.ContentChunk("par"),
		completion.ErrorChunk(completion.ErrStreamInterrupted),
	), nil)

	ch, err := NewService(&fakeSearcher{}, llm, nil, nil).Stream(context.Background(), "x")
	require.NoError(t, err)

	var kinds []completion.ChunkKind
	for ev := range ch {
		if ev.Chunk != nil {
			kinds = append(kinds, ev.Chunk.Kind)
		}
	}
	assert.Equal(t, []completion.ChunkKind{completion.ChunkContent, completion.ChunkContent, completion.ChunkError}, kinds)
}

func TestFallbackToolCall(t *testing.T) {
	call := FallbackToolCall("DeepSeek 最新进展")
	assert.Equal(t, ToolName, call.Name)
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, call, FallbackToolCall("DeepSeek 最新进展"))

	q, err := QueryOf(call)
	require.NoError(t, err)
	assert.Equal(t, "DeepSeek 最新进展", q)

	_, err = QueryOf(completion.ToolCall{Name: ToolName, Arguments: "search(\"x\")"})
	assert.Error(t, err)
}
