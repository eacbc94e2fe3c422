package httputil

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/valyala/fasthttp"
)

// APIResponse is the envelope returned by every admin endpoint
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONResponse writes an APIResponse with the given status
func JSONResponse(ctx *fasthttp.RequestCtx, success bool, message string, data interface{}, statusCode int) {
	body, err := json.Marshal(APIResponse{
		Success: success,
		Message: message,
		Data:    data,
	})
	if err != nil {
		body = []byte(`{"success":false,"message":"failed to encode response"}`)
		statusCode = fasthttp.StatusInternalServerError
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func JSONError(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, false, message, nil, statusCode)
}

func JSONSuccess(ctx *fasthttp.RequestCtx, message string, data interface{}) {
	JSONResponse(ctx, true, message, data, fasthttp.StatusOK)
}

func JSONData(ctx *fasthttp.RequestCtx, data interface{}) {
	JSONResponse(ctx, true, "", data, fasthttp.StatusOK)
}

// DecodeJSONBody unmarshals the request body into v. An empty body is an error.
func DecodeJSONBody(ctx *fasthttp.RequestCtx, v interface{}) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return fmt.Errorf("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// QueryInt returns the integer query argument name, or def when absent.
// Values outside [min, max] are clamped.
func QueryInt(ctx *fasthttp.RequestCtx, name string, def, min, max int) (int, error) {
	raw := ctx.QueryArgs().Peek(name)
	if len(raw) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n, nil
}
