package requestid

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Header carries the request id between the gateway, the origin and clients
const Header = "X-Request-ID"

// MaxLength matches the length of a textual UUID
const MaxLength = 36

var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// New returns a fresh random id
func New() string {
	return uuid.New().String()
}

// Valid reports whether id may be propagated as received
func Valid(id string) bool {
	return id != "" && len(id) <= MaxLength && validID.MatchString(id)
}

// FromRequest returns the caller supplied id when it is well formed,
// otherwise a new one. The id is echoed on the response.
func FromRequest(ctx *fasthttp.RequestCtx) string {
	id := string(ctx.Request.Header.Peek(Header))
	if !Valid(id) {
		id = New()
	}
	ctx.Response.Header.Set(Header, id)
	return id
}
