// Package httpclient implements IVXP's HttpClient: a thin JSON
// request/response transport with error classification, shared by the
// client orchestrator to talk to a Provider's HTTP surface.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ivxp-protocol/ivxp-go"
)

const maxResponseBody = 1 << 20 // 1 MiB; providers never return more for IVXP bodies.

// Client is a small JSON-over-HTTP transport with IVXP error classification.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client that prefixes relative paths with baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Response is a raw response body plus its status code; JSON decodes it.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON decodes the response body into v.
func (r Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ivxp.Wrap(ivxp.ErrInvalidResponse, "failed to decode JSON response", err)
	}
	return nil
}

// Get issues a GET request against path (resolved against baseURL if relative).
func (c *Client) Get(ctx context.Context, path string) (Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// PostJSON issues a POST request with body marshaled to JSON.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}) (Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, ivxp.Wrap(ivxp.ErrInvalidRequestParams, "failed to encode request body", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(raw))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (Response, error) {
	url := path
	if c.baseURL != "" && len(path) > 0 && path[0] == '/' {
		url = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Response{}, ivxp.Wrap(ivxp.ErrNetworkError, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, ivxp.Wrap(ivxp.ErrNetworkError, "failed to read response body", err).WithRecoverable(true)
	}

	return Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// classifyTransportError wraps a low-level *http.Client error as a
// recoverable IVXP transport error.
func classifyTransportError(err error) error {
	return ivxp.Wrap(ivxp.ErrNetworkError, fmt.Sprintf("request failed: %v", err), err).WithRecoverable(true)
}

// IsNotFound reports whether resp represents an HTTP 404, used by the
// client orchestrator to decide a canonical-vs-legacy endpoint fallback.
func (r Response) IsNotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// IsSuccess reports whether resp's status code is in the 2xx range.
func (r Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
