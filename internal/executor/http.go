// Package executor holds the collaborators the engine calls when it fires:
// the action executor, the response broadcaster and credential
// provisioning.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/solatis/tripwire/internal/types"
)

const maxResponseSize = 4 << 20

// HTTPExecutor posts the action request as JSON to a remote execution
// service and decodes its reply.
type HTTPExecutor struct {
	url    string
	apiKey string
	client *http.Client
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithAPIKey sends key as a bearer credential.
func WithAPIKey(key string) HTTPOption {
	return func(e *HTTPExecutor) { e.apiKey = key }
}

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(e *HTTPExecutor) { e.client = c }
}

// NewHTTPExecutor creates an executor for url.
func NewHTTPExecutor(url string, timeout time.Duration, opts ...HTTPOption) *HTTPExecutor {
	e := &HTTPExecutor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type executeReply struct {
	types.ActionResponse
	Error string `json:"error,omitempty"`
}

// Execute makes one invocation. All failures wrap types.ErrExecutor.
func (e *HTTPExecutor) Execute(ctx context.Context, req types.ActionRequest) (*types.ActionResponse, error) {
	body, err := sonnet.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", types.ErrExecutor, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExecutor, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %v", types.ErrExecutor, e.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", types.ErrExecutor, err)
	}

	var reply executeReply
	decodeErr := sonnet.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && reply.Error != "" {
			msg = reply.Error
		}
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("%w: status %d: %s", types.ErrExecutor, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", types.ErrExecutor, decodeErr)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", types.ErrExecutor, reply.Error)
	}
	return &reply.ActionResponse, nil
}
