package pagecache

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Reasons a request is not served from or stored in the cache
const (
	ReasonCacheable  = ""
	ReasonDisabled   = "disabled"
	ReasonMethod     = "method"
	ReasonAdminPath  = "admin_path"
	ReasonLoggedIn   = "logged_in"
	ReasonQueryParam = "query_param"
)

// Policy decides whether a request may use the page cache
type Policy struct {
	allowedParams map[string]struct{}
	bypassPaths   []string
	bypassCookies []string
}

// NewPolicy builds a policy. Query parameters outside allowedParams make a
// request uncacheable; bypassCookies are matched as name prefixes.
func NewPolicy(allowedParams, bypassPaths, bypassCookies []string) *Policy {
	allowed := make(map[string]struct{}, len(allowedParams))
	for _, p := range allowedParams {
		allowed[p] = struct{}{}
	}
	return &Policy{
		allowedParams: allowed,
		bypassPaths:   bypassPaths,
		bypassCookies: bypassCookies,
	}
}

// Cacheable reports whether req is an anonymous GET for a public page.
// The second value names the first failed check.
func (p *Policy) Cacheable(req *fasthttp.Request) (bool, string) {
	if !req.Header.IsGet() {
		return false, ReasonMethod
	}

	path := string(req.URI().Path())
	for _, bp := range p.bypassPaths {
		if matchesPath(path, bp) {
			return false, ReasonAdminPath
		}
	}

	loggedIn := false
	req.Header.VisitAllCookie(func(key, _ []byte) {
		if loggedIn {
			return
		}
		name := string(key)
		for _, prefix := range p.bypassCookies {
			if strings.HasPrefix(name, prefix) {
				loggedIn = true
				return
			}
		}
	})
	if loggedIn {
		return false, ReasonLoggedIn
	}

	foreign := false
	req.URI().QueryArgs().VisitAll(func(key, _ []byte) {
		if _, ok := p.allowedParams[string(key)]; !ok {
			foreign = true
		}
	})
	if foreign {
		return false, ReasonQueryParam
	}

	return true, ReasonCacheable
}

// matchesPath matches prefix on whole path segments, so /wp-admin covers
// /wp-admin/edit.php but not /wp-administrator.
func matchesPath(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
