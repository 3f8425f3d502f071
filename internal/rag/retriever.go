package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Snippet is one ranked retrieval result.
type Snippet struct {
	Text     string  `json:"text"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Retriever maps a query to ranked snippets within a bounded latency.
// Implementations return an empty slice (not an error) on timeout so the
// turn proceeds without context.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Snippet, error)
}

// HTTPRetriever queries a vector-search endpoint. The hard timeout is
// applied here so callers can simply await the result: it is back within
// TimeoutMs no matter what the index does.
type HTTPRetriever struct {
	httpc         *http.Client
	baseURL       string
	topK          int
	minSimilarity float64
	timeout       time.Duration
}

func NewHTTPRetriever(baseURL string, topK int, minSimilarity float64, timeoutMs int) *HTTPRetriever {
	return &HTTPRetriever{
		httpc:         &http.Client{Timeout: 0},
		baseURL:       strings.TrimRight(baseURL, "/"),
		topK:          topK,
		minSimilarity: minSimilarity,
		timeout:       time.Duration(timeoutMs) * time.Millisecond,
	}
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string) ([]Snippet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"query": query, "top_k": r.topK})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// timeout: proceed without context
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rag search status=%d body=%s", resp.StatusCode, string(b))
	}

	var parsed struct {
		Results []Snippet `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rag decode: %w", err)
	}
	return Filter(parsed.Results, r.minSimilarity), nil
}

// Filter drops snippets below the similarity floor.
func Filter(in []Snippet, minSimilarity float64) []Snippet {
	out := in[:0]
	for _, s := range in {
		if s.Score >= minSimilarity {
			out = append(out, s)
		}
	}
	return out
}
