package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hazyhaar/permitpack/safeio"
)

// Engine describes a JSON search API. URLTemplate carries a {query}
// placeholder; header values expand ${ENV_VAR}.
type Engine struct {
	Name        string            `json:"name" yaml:"name"`
	URLTemplate string            `json:"url_template" yaml:"url_template"`
	Method      string            `json:"method" yaml:"method"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	ResultPath  string            `json:"result_path" yaml:"result_path"` // dot-notation: "web.results"
	Fields      map[string]string `json:"fields" yaml:"fields"`           // {"title":"name","url":"link","snippet":"description"}
}

// Hit is one search result.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Search runs query against the engine and returns hits with a non-empty URL.
func (e *Engine) Search(ctx context.Context, client *http.Client, query string, maxBytes int64) ([]Hit, error) {
	if e.URLTemplate == "" {
		return nil, fmt.Errorf("retrieve: engine %q has no url_template", e.Name)
	}
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	searchURL := strings.ReplaceAll(e.URLTemplate, "{query}", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, method, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search request: %w", err)
	}
	for k, v := range e.Headers {
		req.Header.Set(k, expandEnv(v))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: e.Name, Code: resp.StatusCode}
	}

	body, err := safeio.LimitedReadAll(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("retrieve: search json: %w", err)
	}
	items, err := walkPath(raw, e.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("retrieve: walk path %q: %w", e.ResultPath, err)
	}

	hits := make([]Hit, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		h := extractHit(obj, e.Fields)
		if h.URL != "" {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// walkPath walks a dot-notation path into a JSON value and returns the array
// found there. An empty path means the root must be an array.
func walkPath(v any, path string) ([]any, error) {
	if path == "" {
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("root is not an array")
		}
		return arr, nil
	}

	current := v
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object at %q, got %T", part, current)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("key %q not found", part)
		}
	}

	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("path %q is not an array", path)
	}
	return arr, nil
}

func extractHit(obj map[string]any, fields map[string]string) Hit {
	key := func(name string) string {
		if f, ok := fields[name]; ok && f != "" {
			return f
		}
		return name
	}
	return Hit{
		Title:   asString(obj[key("title")]),
		URL:     asString(obj[key("url")]),
		Snippet: asString(obj[key("snippet")]),
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}
