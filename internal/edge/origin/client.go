package origin

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ErrOriginUnavailable is returned when the origin cannot be reached or times out
var ErrOriginUnavailable = errors.New("origin unavailable")

// hopHeaders are never forwarded between client and origin
var hopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
	"host":                {},
	"accept-encoding":     {},
}

// Response holds what the origin returned for one request
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Headers     map[string][]string
	Duration    time.Duration
}

// IsHTML reports whether the response is a rendered HTML page
func (r *Response) IsHTML() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(r.ContentType)), "text/html")
}

// Header returns the first value of the named response header
func (r *Response) Header(name string) string {
	for k, values := range r.Headers {
		if strings.EqualFold(k, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// Config configures the origin client
type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Client forwards requests to the WordPress server that renders pages
type Client struct {
	base      *url.URL
	userAgent string
	client    *fasthttp.Client
	logger    *zap.Logger
}

// NewClient creates an origin client. Redirects are passed back unfollowed.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid origin url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid origin url %q", cfg.URL)
	}

	return &Client{
		base:      base,
		userAgent: cfg.UserAgent,
		client: &fasthttp.Client{
			ReadTimeout:              cfg.Timeout,
			WriteTimeout:             cfg.Timeout,
			NoDefaultUserAgentHeader: true,
		},
		logger: logger,
	}, nil
}

// URL returns the absolute origin URL for a request URI
func (c *Client) URL(requestURI string) string {
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return c.base.Scheme + "://" + c.base.Host + strings.TrimRight(c.base.Path, "/") + requestURI
}

// Fetch forwards the client request to the origin and returns a copy of the response.
// host is sent as the Host header so WordPress builds links for the public site.
func (c *Client) Fetch(req *fasthttp.Request, host string) (*Response, error) {
	out := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(out)
	defer fasthttp.ReleaseResponse(resp)

	target := c.URL(string(req.URI().RequestURI()))
	out.SetRequestURI(target)
	out.Header.SetMethodBytes(req.Header.Method())

	for key, value := range req.Header.All() {
		if _, skip := hopHeaders[strings.ToLower(string(key))]; skip {
			continue
		}
		out.Header.AddBytesKV(key, value)
	}
	if host != "" {
		out.UseHostHeader = true
		out.Header.SetHost(host)
	}
	if c.userAgent != "" && len(out.Header.UserAgent()) == 0 {
		out.Header.SetUserAgent(c.userAgent)
	}
	if body := req.Body(); len(body) > 0 {
		out.SetBody(body)
	}

	start := time.Now()
	if err := c.client.Do(out, resp); err != nil {
		c.logger.Warn("Origin request failed",
			zap.String("url", target),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrOriginUnavailable, err)
	}
	elapsed := time.Since(start)

	headers := make(map[string][]string)
	for key, value := range resp.Header.All() {
		k := string(key)
		if _, skip := hopHeaders[strings.ToLower(k)]; skip {
			continue
		}
		headers[k] = append(headers[k], string(value))
	}

	contentType := string(resp.Header.ContentType())

	response := &Response{
		StatusCode:  resp.StatusCode(),
		Body:        append([]byte(nil), resp.Body()...),
		ContentType: contentType,
		Headers:     headers,
		Duration:    elapsed,
	}

	c.logger.Debug("Origin request completed",
		zap.String("url", target),
		zap.Int("status_code", response.StatusCode),
		zap.Int("response_size", len(response.Body)),
		zap.Duration("duration", elapsed))

	return response, nil
}

// Get performs a plain GET for uri, used by the performance test
func (c *Client) Get(uri, host string) (*Response, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	return c.Fetch(req, host)
}
