package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

const maxResponseBytes = 10 << 20

// httpExecutor performs outbound HTTP requests. Failures are classified for
// the retry policy: connection faults, 429 and 5xx are transient, everything
// else is permanent.
type httpExecutor struct {
	client *http.Client
}

func httpFactory() catalog.Factory {
	// One shared client; per-attempt deadlines come from the request ctx.
	client := &http.Client{Timeout: 0}
	return func(catalog.ExecContext) (catalog.NodeExecutor, error) {
		return &httpExecutor{client: client}, nil
	}
}

func (e *httpExecutor) Execute(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}
	method, err := optionalStringParam(params, "method", http.MethodGet)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)
	headers, err := mappingParam(params, "headers")
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	if raw, ok := params["body"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode request body: %s", err.Error()).WithCause(err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "build request: %s", err.Error()).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		s, cerr := catalog.KindString.Coerce(v)
		if cerr != nil {
			return nil, badParam("headers", cerr)
		}
		req.Header.Set(k, s.(string))
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schema.NewErrorf(schema.ErrCodeTransientIO, "%s %s: %s", method, url, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schema.NewErrorf(schema.ErrCodeTransientIO, "read response from %s: %s", url, err.Error()).WithCause(err)
	}

	if progress != nil {
		progress(map[string]any{
			"status":      resp.StatusCode,
			"elapsed_ms":  time.Since(start).Milliseconds(),
			"body_length": len(data),
		})
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, schema.NewErrorf(schema.ErrCodeTransientIO, "%s %s: status %d", method, url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodePermanentIO, "%s %s: status %d", method, url, resp.StatusCode)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"body":    decodeBody(resp.Header.Get("Content-Type"), data),
		"headers": flattenHeaders(resp.Header),
	}, nil
}

// decodeBody returns parsed JSON for JSON responses and a string otherwise.
func decodeBody(contentType string, data []byte) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return string(data)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
