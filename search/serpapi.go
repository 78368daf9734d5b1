package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSerpEndpoint = "https://serpapi.com/search"
	defaultNumResults   = 2
	maxResults          = 3
)

var ErrMissingAPIKey = errors.New("serpapi key is not set")

// Result is one organic search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

// SerpAPI searches Google through serpapi.com.
type SerpAPI struct {
	endpoint   string
	apiKey     string
	numResults int
	language   string
	country    string
	httpClient *http.Client
	log        *zap.Logger
}

type SerpOption func(*SerpAPI)

func WithEndpoint(endpoint string) SerpOption {
	return func(s *SerpAPI) { s.endpoint = endpoint }
}

func WithHTTPClient(client *http.Client) SerpOption {
	return func(s *SerpAPI) { s.httpClient = client }
}

func WithLocale(language, country string) SerpOption {
	return func(s *SerpAPI) {
		s.language = language
		s.country = country
	}
}

func WithNumResults(n int) SerpOption {
	return func(s *SerpAPI) { s.numResults = n }
}

func WithSerpLogger(log *zap.Logger) SerpOption {
	return func(s *SerpAPI) { s.log = log }
}

func NewSerpAPI(apiKey string, opts ...SerpOption) (*SerpAPI, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	s := &SerpAPI{
		endpoint:   defaultSerpEndpoint,
		apiKey:     apiKey,
		numResults: defaultNumResults,
		language:   "zh-CN",
		country:    "cn",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search returns at most three organic results for query.
func (s *SerpAPI) Search(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("num", strconv.Itoa(s.numResults))
	params.Set("hl", s.language)
	params.Set("gl", s.country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fail to build search request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fail to call serpapi: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fail to read serpapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi returned status %d: %s", resp.StatusCode, body)
	}

	var data serpResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("fail to parse serpapi response: %w", err)
	}
	if data.Error != "" {
		if strings.Contains(data.Error, "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi error: %s", data.Error)
	}

	results := make([]Result, 0, min(len(data.OrganicResults), maxResults))
	for _, item := range data.OrganicResults {
		if len(results) == maxResults {
			break
		}
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	s.log.Debug("search done", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}
