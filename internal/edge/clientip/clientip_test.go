package clientip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func newRequestCtx(remoteAddr string, headers map[string]string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	addr, _ := net.ResolveTCPAddr("tcp", remoteAddr)
	ctx.SetRemoteAddr(addr)
	for key, value := range headers {
		ctx.Request.Header.Set(key, value)
	}
	return ctx
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		reqHeaders map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "untrusted header ignored",
			trusted:    nil,
			reqHeaders: map[string]string{"X-Forwarded-For": "10.0.0.1"},
			remoteAddr: "192.168.1.100:54321",
			expected:   "192.168.1.100",
		},
		{
			name:       "leftmost entry of a trusted chain",
			trusted:    []string{"X-Forwarded-For"},
			reqHeaders: map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"},
			remoteAddr: "1.1.1.1:1234",
			expected:   "203.0.113.50",
		},
		{
			name:       "first populated trusted header wins",
			trusted:    []string{"X-Real-IP", "X-Forwarded-For"},
			reqHeaders: map[string]string{"X-Real-IP": "  ", "X-Forwarded-For": "10.0.0.2"},
			remoteAddr: "1.1.1.1:1234",
			expected:   "10.0.0.2",
		},
		{
			name:       "empty first segment falls back to peer",
			trusted:    []string{"X-Forwarded-For"},
			reqHeaders: map[string]string{"X-Forwarded-For": " , 10.0.0.2"},
			remoteAddr: "1.1.1.1:1234",
			expected:   "1.1.1.1",
		},
		{
			name:       "IPv6 with zone",
			trusted:    []string{"X-Real-IP"},
			reqHeaders: map[string]string{"X-Real-IP": "fe80::1%eth0"},
			remoteAddr: "1.1.1.1:1234",
			expected:   "fe80::1",
		},
		{
			name:       "IPv4-mapped IPv6",
			trusted:    []string{"X-Real-IP"},
			reqHeaders: map[string]string{"X-Real-IP": "::ffff:192.168.1.1"},
			remoteAddr: "1.1.1.1:1234",
			expected:   "192.168.1.1",
		},
		{
			name:       "IPv6 peer",
			remoteAddr: "[::1]:8080",
			expected:   "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newRequestCtx(tt.remoteAddr, tt.reqHeaders)
			assert.Equal(t, tt.expected, Resolve(ctx, tt.trusted))
		})
	}
}

func TestForward(t *testing.T) {
	t.Run("spoofed chain replaced", func(t *testing.T) {
		var req fasthttp.Request
		req.Header.Set(HeaderForwardedFor, "6.6.6.6")
		req.Header.Set(HeaderForwardedProto, "https")
		Forward(&req, "192.168.1.100", false, false)

		assert.Equal(t, "192.168.1.100", string(req.Header.Peek(HeaderForwardedFor)))
		assert.Equal(t, "192.168.1.100", string(req.Header.Peek(HeaderRealIP)))
		assert.Equal(t, "http", string(req.Header.Peek(HeaderForwardedProto)))
	})

	t.Run("trusted chain extended", func(t *testing.T) {
		var req fasthttp.Request
		req.Header.Set(HeaderForwardedFor, "203.0.113.50")
		req.Header.Set(HeaderForwardedProto, "https")
		Forward(&req, "10.0.0.1", true, false)

		assert.Equal(t, "203.0.113.50, 10.0.0.1", string(req.Header.Peek(HeaderForwardedFor)))
		assert.Equal(t, "https", string(req.Header.Peek(HeaderForwardedProto)))
	})

	t.Run("no incoming chain", func(t *testing.T) {
		var req fasthttp.Request
		Forward(&req, "10.0.0.1", true, true)
		assert.Equal(t, "10.0.0.1", string(req.Header.Peek(HeaderForwardedFor)))
		assert.Equal(t, "https", string(req.Header.Peek(HeaderForwardedProto)))
	})
}

func TestTrusts(t *testing.T) {
	assert.True(t, Trusts([]string{"x-forwarded-for"}, HeaderForwardedFor))
	assert.False(t, Trusts(nil, HeaderForwardedFor))
}
