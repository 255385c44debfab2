package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
)

// client is a thin cookie-jar HTTP client speaking the JSON envelope the
// API wraps every non-stream response in.
type client struct {
	base string
	http *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newClient(base string, timeout time.Duration) (*client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "new cookie jar")
	}
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

func (c *client) login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.postJSON(ctx, "/api/auth/login", body, nil)
}

type moduleInfo struct {
	Name         string `json:"name"`
	DefaultModel string `json:"default_model"`
}

func (c *client) listModules(ctx context.Context) ([]moduleInfo, error) {
	var modules []moduleInfo
	if err := c.getJSON(ctx, "/api/modules", &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

type chatResult struct {
	ModelId string `json:"model_id"`
	Text    string `json:"text"`
}

func (c *client) chat(ctx context.Context, module, prompt string) (*chatResult, error) {
	var result chatResult
	body := map[string]any{"text": prompt}
	if err := c.postJSON(ctx, "/api/module/"+module+"/chat", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// chatStream runs one SSE turn and returns the concatenated deltas. It
// fails unless the stream carries at least one delta, an "event: result"
// frame, and the closing [DONE] sentinel.
func (c *client) chatStream(ctx context.Context, module, prompt string) (string, error) {
	raw, err := json.Marshal(map[string]any{"text": prompt, "stream": true})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/module/"+module+"/chat", bytes.NewReader(raw))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", errors.Errorf("stream status %d: %s", resp.StatusCode, payload)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return "", errors.Errorf("unexpected content type %q", ct)
	}

	var (
		text      strings.Builder
		gotResult bool
		gotDone   bool
		inResult  bool
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			inResult = false
		case strings.HasPrefix(line, "event: "):
			inResult = strings.TrimPrefix(line, "event: ") == "result"
			gotResult = gotResult || inResult
		case line == "data: [DONE]":
			gotDone = true
		case strings.HasPrefix(line, "data: "):
			if inResult {
				continue
			}
			var chunk struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				return "", errors.Wrap(err, "decode delta frame")
			}
			text.WriteString(chunk.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "read stream")
	}
	if !gotResult {
		return "", errors.New("stream ended without a result event")
	}
	if !gotDone {
		return "", errors.New("stream ended without [DONE]")
	}
	if text.Len() == 0 {
		return "", errors.New("stream carried no deltas")
	}
	return text.String(), nil
}

func (c *client) status(ctx context.Context) error {
	return c.getJSON(ctx, "/api/status", nil)
}

func (c *client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "decode response of %s", req.URL.Path)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return errors.Errorf("%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrapf(err, "decode data of %s", req.URL.Path)
		}
	}
	return nil
}
