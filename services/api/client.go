package apisvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chitterchatter/portal/core"
)

const requestIDHeader = "X-Request-ID"

// Client talks to the ChitterChatter REST backend.
// It never retries and never sets a timeout: callers bound requests with a context.
type Client struct {
	baseURL string
	http    *http.Client
	store   core.TokenStore
}

// NewClient returns a Client reading the bearer token from `store`. A nil httpClient means http.DefaultClient.
func NewClient(baseURL string, store core.TokenStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient, store: store}
}

func (c *Client) URL(path string) string {
	return core.JoinURL(c.baseURL, path)
}

// Request sends an authenticated request and returns the raw response.
// The bearer token is attached when the store holds one. The response is not interpreted:
// non-2xx statuses are not errors and 401/403 do not trigger anything. The caller closes the body.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if token, ok := c.store.Get(core.KeyAccessToken); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

// do sends an unauthenticated request. Used for public endpoints only.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), rdr)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}

// Decode checks the response status and decodes its JSON body into v (if not nil).
// The body is always closed.
func Decode(resp *http.Response, v interface{}) error {
	defer func() { _ = resp.Body.Close() }()

	if err := CheckResponse(resp); err != nil {
		return err
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decoding response body")
	}
	return nil
}
