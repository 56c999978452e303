package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zanbei/agentx/errors"
)

type httpRequestArgs struct {
	Method  string            `json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE,enum=HEAD"`
	URL     string            `json:"url" jsonschema:"required"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HTTPRequestTool makes outbound HTTP calls and returns status and body.
type HTTPRequestTool struct {
	client   *http.Client
	maxBytes int64
	// authToken, when set, is sent as a bearer token unless the call
	// carries its own Authorization header.
	authToken string
}

func NewHTTPRequestTool(timeout time.Duration, maxBytes int64, authToken string) *HTTPRequestTool {
	return &HTTPRequestTool{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		authToken: authToken,
	}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }
func (t *HTTPRequestTool) Description() string {
	return "Make API calls, fetch web data, and call local HTTP servers. Args: method, url, headers, body."
}
func (t *HTTPRequestTool) InputSchema() map[string]any { return SchemaFor[httpRequestArgs]() }

func (t *HTTPRequestTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[httpRequestArgs](args)
	if err != nil || a.URL == "" {
		return "", errors.New("missing or invalid 'url' argument")
	}
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(a.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.URL, body)
	if err != nil {
		return "", errors.Wrapf(err, "invalid request")
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	if t.authToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s %s failed", method, a.URL)
	}
	defer resp.Body.Close()

	limit := t.maxBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read response body")
	}
	return fmt.Sprintf("Status: %d\nContent-Type: %s\n\n%s", resp.StatusCode, resp.Header.Get("Content-Type"), data), nil
}
