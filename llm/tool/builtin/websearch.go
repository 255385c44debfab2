package builtin

import (
	"context"
	"net/url"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/tool"
)

const maxSearchResults = 8

// buildWebSearch requires SEARCH_ENDPOINT to point at a SearxNG compatible
// JSON API. Without one the tool stays unavailable and modules that enable
// it simply run without search.
func buildWebSearch() (*tool.Spec, error) {
	if config.SearchEndpoint == "" {
		return nil, errors.New("SEARCH_ENDPOINT is not configured")
	}
	return tool.NewSpec(
		"web_search",
		"Search the web and return the top results with title, URL and snippet.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
			},
			"required": []string{"query"},
		},
		webSearchHandler,
	), nil
}

func webSearchHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	query, _ := input["query"].(string)
	if query == "" {
		return nil, errors.New("query is required")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.ToolTimeout)*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := getJSON(ctx, config.SearchEndpoint+"?"+params.Encode(), &payload); err != nil {
		return nil, errors.Wrap(err, "search request")
	}

	results := make([]map[string]any, 0, maxSearchResults)
	for i, r := range payload.Results {
		if i >= maxSearchResults {
			break
		}
		results = append(results, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Content,
		})
	}
	return map[string]any{"results": results}, nil
}
