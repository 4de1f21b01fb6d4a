package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

const (
	defaultWebTimeout  = 30 * time.Second
	maxResponseBytes   = 1 << 20 // 1MB
	defaultMaxSearches = 10
)

// ReadURLTool fetches a URL and returns the body, truncated to 1MB.
// Search-style tool: calls count toward the two-action reminder.
type ReadURLTool struct {
	client *http.Client
}

// NewReadURLTool creates the tool with a default HTTP client.
func NewReadURLTool() *ReadURLTool {
	return &ReadURLTool{client: &http.Client{Timeout: defaultWebTimeout}}
}

func (t *ReadURLTool) Name() string { return "read_url" }

func (t *ReadURLTool) Description() string {
	return "Fetch a URL over HTTP GET and return the response body"
}

type readURLArgs struct {
	URL string `json:"url" jsonschema:"required,description=Absolute http or https URL to fetch"`
}

func (t *ReadURLTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schemaFor(&readURLArgs{}),
	}
}

func (t *ReadURLTool) Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
	raw, ok := stringArg(args, "url")
	if !ok {
		return &protocol.ToolResult{Success: false, Error: "invalid params: url is required"}, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("invalid params: not an http(s) URL: %s", raw)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to build request: %v", err)}, nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("network error: %v", err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to read response: %v", err)}, nil
	}

	if resp.StatusCode >= 400 {
		return &protocol.ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("HTTP %d fetching %s", resp.StatusCode, raw),
			Metadata: map[string]any{"status_code": resp.StatusCode},
		}, nil
	}

	return &protocol.ToolResult{
		Success: true,
		Output:  string(body),
		Metadata: map[string]any{
			"url":          raw,
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"bytes":        len(body),
		},
	}, nil
}

// ==================== WEB SEARCH ====================

// WebSearchTool queries a SearxNG-compatible JSON search endpoint.
// Search-style tool: calls count toward the two-action reminder.
type WebSearchTool struct {
	endpoint string
	client   *http.Client
}

// NewWebSearchTool creates the tool against the given search endpoint
// (the base URL of a SearxNG-compatible instance).
func NewWebSearchTool(endpoint string) *WebSearchTool {
	return &WebSearchTool{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: defaultWebTimeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return the top results as title, URL and snippet"
}

type webSearchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum results to return (default 10)"`
}

func (t *WebSearchTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schemaFor(&webSearchArgs{}),
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
	query, ok := stringArg(args, "query")
	if !ok {
		return &protocol.ToolResult{Success: false, Error: "invalid params: query is required"}, nil
	}
	if t.endpoint == "" {
		return &protocol.ToolResult{Success: false, Error: "web search is not configured"}, nil
	}
	maxResults := intArg(args, "max_results", defaultMaxSearches)

	searchURL := fmt.Sprintf("%s/search?q=%s&format=json", t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to build request: %v", err)}, nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("network error: %v", err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &protocol.ToolResult{Success: false, Error: "rate limited by search backend (HTTP 429)"}, nil
	}
	if resp.StatusCode >= 400 {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("search backend returned HTTP %d", resp.StatusCode)}, nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to decode search response: %v", err)}, nil
	}

	var sb strings.Builder
	count := 0
	for _, r := range parsed.Results {
		if count >= maxResults {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", count+1, r.Title, r.URL, r.Content)
		count++
	}
	if count == 0 {
		sb.WriteString("no results")
	}

	return &protocol.ToolResult{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"query":   query,
			"results": count,
		},
	}, nil
}
