package clientip

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

// Forwarding headers sent to the origin
const (
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderRealIP         = "X-Real-IP"
	HeaderForwardedProto = "X-Forwarded-Proto"
)

// Resolve returns the visitor address. trusted lists request headers set by a
// proxy in front of the gateway; the first non-empty one wins. Without trusted
// headers, or when all are empty, the TCP peer address is used.
func Resolve(ctx *fasthttp.RequestCtx, trusted []string) string {
	for _, header := range trusted {
		if ip := firstHop(string(ctx.Request.Header.Peek(header))); ip != "" {
			return ip
		}
	}
	return peerIP(ctx.RemoteAddr().String())
}

// Forward rewrites the forwarding headers of req before it is proxied.
// A chain is only extended when the incoming header is trusted; otherwise
// whatever the client sent is replaced.
func Forward(req *fasthttp.Request, ip string, trustChain bool, tls bool) {
	chain := strings.TrimSpace(string(req.Header.Peek(HeaderForwardedFor)))
	if trustChain && chain != "" {
		req.Header.Set(HeaderForwardedFor, chain+", "+ip)
	} else {
		req.Header.Set(HeaderForwardedFor, ip)
	}
	req.Header.Set(HeaderRealIP, ip)

	proto := "http"
	if tls {
		proto = "https"
	}
	if !trustChain || len(req.Header.Peek(HeaderForwardedProto)) == 0 {
		req.Header.Set(HeaderForwardedProto, proto)
	}
}

// Trusts reports whether headers contains name, case-insensitively
func Trusts(headers []string, name string) bool {
	for _, h := range headers {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// firstHop takes the leftmost entry of a comma separated chain
func firstHop(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return normalize(value)
}

func peerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return normalize(addr)
	}
	return normalize(host)
}

func normalize(raw string) string {
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	if idx := strings.IndexByte(raw, '%'); idx >= 0 {
		raw = raw[:idx]
	}
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	return raw
}
