package server

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ETag returns a strong entity tag for body
func ETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}

// NotModified reports whether an If-None-Match header matches etag.
// Weak validators compare equal to their strong form.
func NotModified(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
