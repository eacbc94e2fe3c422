package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HeaderAuth carries the shared admin key
const HeaderAuth = "X-Internal-Auth"

// ErrUnreachable is returned when the admin server cannot be contacted
var ErrUnreachable = errors.New("admin server unreachable")

// Response is the JSON envelope returned by every admin endpoint
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError is a response with success=false
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client calls the gateway admin API
type Client struct {
	baseURL string
	authKey string
	timeout time.Duration
	client  *fasthttp.Client
}

// New creates a client for the admin server at addr (host:port or URL)
func New(addr, authKey string, timeout time.Duration) (*Client, error) {
	if addr == "" {
		return nil, errors.New("admin address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid admin address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid admin address %q: missing host", addr)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		authKey: authKey,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:         "perfctl",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}, nil
}

// Do sends one request. body is encoded as JSON when not nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(HeaderAuth, c.authKey)

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: "invalid response body"}
	}
	if !out.Success || resp.StatusCode() >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: out.Message}
	}
	return &out, nil
}

// Get issues a GET request
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, fasthttp.MethodGet, path, query, nil)
}

// Post issues a POST request
func (c *Client) Post(ctx context.Context, path string, query url.Values, body interface{}) (*Response, error) {
	return c.Do(ctx, fasthttp.MethodPost, path, query, body)
}

// Put issues a PUT request
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, fasthttp.MethodPut, path, nil, body)
}
