// Package search answers a question with web search results folded into the
// prompt. The model is first asked for a structured search call; when it
// gives none, the question itself is searched.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"assistgen/completion"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ToolName          = "search"
	ResultsEventType  = "search_results"
	noResultsNotice   = "\n\n### No relevant search results were found. Answering from existing knowledge:\n\n"
	searchErrorNotice = "\n\n### Search failed. Answering from existing knowledge:\n\n"
)

const systemPrompt = "You are an assistant that can search the internet. " +
	"Give a complete and accurate answer based on the search results. " +
	"Cite the concrete sources and say how current the information is. " +
	"If the results are not relevant, say so and answer from what you know."

const toolPrompt = "You must use the search function to get information. " +
	"Do not answer directly; call the search function instead."

var searchTool = completion.Tool{
	Name:        ToolName,
	Description: "Search the internet for real-time information. Always use this function to get up-to-date information.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query, e.g. 'DeepSeek latest progress 2024'",
			},
		},
		"required": []string{"query"},
	},
}

// Results is the structured event sent ahead of the answer tokens.
type Results struct {
	Type    string   `json:"type"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Event is either the search results or one answer chunk.
type Event struct {
	Results *Results
	Chunk   *completion.CompletionChunk
}

type Service struct {
	searcher Searcher
	llm      completion.Service
	tools    completion.ToolCaller
	log      *zap.Logger
}

// NewService builds the search flow. tools may be nil, in which case the
// question is always searched verbatim.
func NewService(searcher Searcher, llm completion.Service, tools completion.ToolCaller, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		searcher: searcher,
		llm:      llm,
		tools:    tools,
		log:      log,
	}
}

// Stream searches for question and streams an answer grounded on the
// results. A returned error means the answer stream could not be started.
func (s *Service) Stream(ctx context.Context, question string) (<-chan Event, error) {
	query := s.resolveQuery(ctx, question)

	results, searchErr := s.searcher.Search(ctx, query)
	summary := &Results{
		Type:    ResultsEventType,
		Total:   len(results),
		Query:   query,
		Results: results,
	}
	if summary.Results == nil {
		summary.Results = []Result{}
	}

	var notice string
	prompt := question
	switch {
	case searchErr != nil:
		s.log.Warn("search failed", zap.String("query", query), zap.Error(searchErr))
		summary.Error = searchErr.Error()
		notice = searchErrorNotice
	case len(results) == 0:
		notice = noResultsNotice
	default:
		prompt = groundedPrompt(question, results)
	}

	upstream, err := s.llm.GetStream(ctx, completion.Conversation{
		{Role: completion.RoleSystem, Content: systemPrompt},
		{Role: completion.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("fail to start search answer: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		if !send(ctx, out, Event{Results: summary}) {
			return
		}
		if notice != "" && !send(ctx, out, Event{Chunk: completion.ContentChunk(notice)}) {
			return
		}
		for chunk := range upstream {
			if chunk.Kind == completion.ChunkDone {
				return
			}
			if !send(ctx, out, Event{Chunk: chunk}) || chunk.Kind == completion.ChunkError {
				return
			}
		}
	}()
	return out, nil
}

// resolveQuery asks the model for a structured search call and falls back to
// the question itself.
func (s *Service) resolveQuery(ctx context.Context, question string) string {
	call := FallbackToolCall(question)
	if s.tools != nil {
		resp, err := s.tools.CallTools(ctx, completion.Conversation{
			{Role: completion.RoleSystem, Content: toolPrompt},
			{Role: completion.RoleUser, Content: question},
		}, []completion.Tool{searchTool}, ToolName)
		switch {
		case err != nil:
			s.log.Warn("tool call failed, search the question", zap.Error(err))
		case resp != nil:
			for _, tc := range resp.ToolCalls {
				if tc.Name == ToolName {
					call = tc
					break
				}
			}
		}
	}

	query, err := QueryOf(call)
	if err != nil || query == "" {
		s.log.Debug("unusable tool call arguments", zap.String("arguments", call.Arguments), zap.Error(err))
		return question
	}
	return query
}

// FallbackToolCall is the search call used when the model does not produce
// one. It is deterministic in query.
func FallbackToolCall(query string) completion.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": query})
	return completion.ToolCall{
		ID:        "call_" + strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(query)).String(), "-", "")[:16],
		Name:      ToolName,
		Arguments: string(args),
	}
}

// QueryOf decodes the query argument of a search call.
func QueryOf(call completion.ToolCall) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "", fmt.Errorf("fail to decode %s arguments: %w", call.Name, err)
	}
	return strings.TrimSpace(args.Query), nil
}

func groundedPrompt(question string, results []Result) string {
	sources := make([]string, 0, len(results))
	for _, r := range results {
		sources = append(sources, fmt.Sprintf("Source: %s\nLink: %s\nContent: %s\n", r.Title, r.URL, r.Snippet))
	}
	return "Answer the user's question based on the search results below.\n\n" +
		"Search results:\n\n" + strings.Join(sources, "\n---\n") +
		"\n\nUser question: " + question +
		"\n\nRequirements:\n" +
		"1. Give a complete and accurate answer\n" +
		"2. Cite concrete sources and links\n" +
		"3. State how current the information is\n" +
		"4. If the information is insufficient, explain the limitations"
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
