package builtin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/orchidlake/llmstudio/common/client"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// maxFetchBytes caps how much of a fetched page is handed back to the
// model. Pages larger than this are truncated, not rejected.
const maxFetchBytes = 64 * 1024

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern         = regexp.MustCompile(`<[^>]*>`)
	blankLinePattern   = regexp.MustCompile(`\n{3,}`)
)

func buildWebFetch() (*tool.Spec, error) {
	return tool.NewSpec(
		"web_fetch",
		"Fetch a web page and return its readable text content.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute http(s) URL to fetch",
				},
			},
			"required": []string{"url"},
		},
		webFetchHandler,
	), nil
}

func webFetchHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	rawURL, _ := input["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, errors.Errorf("invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.ToolTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := client.UserContentRequestHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch url")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	if strings.Contains(contentType, "text/html") {
		text = htmlToText(text)
	}

	return map[string]any{
		"url":          rawURL,
		"content_type": contentType,
		"content":      text,
		"truncated":    len(body) == maxFetchBytes,
	}, nil
}

// htmlToText strips markup well enough for a model to read the page. Not a
// real HTML parser on purpose; tools feed models, not browsers.
func htmlToText(html string) string {
	text := scriptStylePattern.ReplaceAllString(html, " ")
	text = tagPattern.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLinePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
