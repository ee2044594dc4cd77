package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxEnvelopeBytes = 16 << 20

// Client wraps API calls.
type Client struct {
	BaseURL    string
	Token      string
	AjaxPrefix string
	Timeout    time.Duration
}

// EventEnvelope mirrors the SSE payload emitted by /events.
type EventEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// InvokeResult is the raw outcome of one AJAX call.
type InvokeResult struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) httpClient() *http.Client {
	return &http.Client{Timeout: c.Timeout}
}

// GetJSON decodes the JSON response of a GET request into target.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed: %s", req.Method, req.URL.Path, resp.Status)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// Invoke posts params to the AJAX function and returns the raw response. Non
// 200 answers are reported as errors; the envelope itself is not inspected.
func (c *Client) Invoke(ctx context.Context, function string, params url.Values) (*InvokeResult, error) {
	prefix := c.AjaxPrefix
	if prefix == "" {
		prefix = defaultAjaxPrefix
	}
	target := c.url("/" + strings.Trim(prefix, "/") + "/" + url.PathEscape(function))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return nil, err
	}
	res := &InvokeResult{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("invoke %s failed: %s", function, resp.Status)
	}
	return res, nil
}

// StreamEvents opens the SSE feed, optionally restricted to types, and invokes
// handler for each event. Returning false stops the stream.
func (c *Client) StreamEvents(ctx context.Context, types []string, handler func(EventEnvelope) bool) error {
	path := "/events"
	if len(types) > 0 {
		path += "?" + url.Values{"type": types}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s failed: %s", "/events", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	var (
		eventType string
		dataLines []string
	)

	dispatch := func() bool {
		if len(dataLines) == 0 {
			return true
		}
		raw := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		var evt EventEnvelope
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return true
		}
		if evt.Type == "" {
			evt.Type = eventType
		}
		if handler != nil {
			return handler(evt)
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if !dispatch() {
				return nil
			}
			eventType = ""
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
}
