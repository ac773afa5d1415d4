package couchdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// joinPath resolves seg against base. A path beginning with '/' or '.'
// is resolved as a relative URL reference against base+"/"; any other
// path is concatenated onto base with a single '/' separator.
func joinPath(base, seg string) (string, error) {
	if seg == "" {
		return base, nil
	}
	if strings.HasPrefix(seg, "/") || strings.HasPrefix(seg, ".") {
		baseURL, err := url.Parse(strings.TrimRight(base, "/") + "/")
		if err != nil {
			return "", err
		}
		refURL, err := url.Parse(seg)
		if err != nil {
			return "", err
		}
		return baseURL.ResolveReference(refURL).String(), nil
	}
	return strings.TrimRight(base, "/") + "/" + seg, nil
}

// buildURL picks the next base URL (round-robin), expands placeholders
// against it, appends the request path, and appends the query string.
func (c *Client) buildURL(opts *RequestOptions) (string, error) {
	base := c.nextBaseURL()
	expanded, err := c.expandTemplate(base, opts)
	if err != nil {
		return "", fmt.Errorf("couchdb: expanding URL template: %w", err)
	}

	full, err := joinPath(expanded, opts.path())
	if err != nil {
		return "", fmt.Errorf("couchdb: resolving path: %w", err)
	}

	var buf strings.Builder
	buf.WriteString(full)
	hasQuery := strings.Contains(full, "?")
	if _, err := opts.Query.appendTo(&buf, hasQuery); err != nil {
		return "", fmt.Errorf("couchdb: encoding query: %w", err)
	}
	return buf.String(), nil
}

// Request issues a single non-streaming request, buffering the
// response body and decoding it as JSON when the content-type allows.
func (c *Client) Request(opts *RequestOptions) (*ResponseEnvelope, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	resp, retriesLeft, reqURL, err := c.dispatchCtx(context.Background(), opts)
	if err != nil {
		c.fireFailure(reqURL, opts, err, retriesLeft)
		return nil, err
	}
	defer resp.Body.Close()

	env, err := c.classifyResponse(reqURL, resp)
	if err != nil {
		c.fireFailure(reqURL, opts, err, 0)
		return nil, err
	}
	c.fireSuccess(reqURL, opts, resp.StatusCode)
	return env, nil
}

// classifyResponse handles the non-streaming path: HTTP error mapping,
// 304 handling, cache header extraction and JSON decoding.
func (c *Client) classifyResponse(reqURL string, resp *http.Response) (*ResponseEnvelope, error) {
	if resp.StatusCode >= 400 {
		return nil, parseHTTPError(reqURL, resp)
	}

	env := &ResponseEnvelope{Response: resp}
	env.CacheInfo.Headers = extractCacheHeaders(resp.Header)
	if resp.StatusCode == http.StatusNotModified {
		env.CacheInfo.NotModified = true
		io.Copy(io.Discard, resp.Body)
		return env, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("couchdb: reading response body: %w", err)
	}
	env.Body = body

	if isJSONContentType(resp.Header.Get("Content-Type")) && len(body) > 0 {
		var v interface{}
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, &BadGateway{URL: reqURL, Err: err}
		}
		env.JSON = v
	}
	return env, nil
}

func parseHTTPError(reqURL string, resp *http.Response) error {
	herr := &HTTPError{URL: reqURL, StatusCode: resp.StatusCode}
	if resp.Request != nil {
		herr.Method = resp.Request.Method
	}
	var reply struct{ Error, Reason string }
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(body) > 0 {
		json.Unmarshal(body, &reply)
	}
	herr.ErrorCode = reply.Error
	herr.Reason = reply.Reason
	return herr
}

// dispatchCtx builds the request, applies headers/body, and retries
// non-HTTP failures up to the effective budget, redispatching the
// exact same logical request (same chosen base URL) each time.
func (c *Client) dispatchCtx(ctx context.Context, opts *RequestOptions) (resp *http.Response, retriesLeft int, reqURL string, err error) {
	reqURL, err = c.buildURL(opts)
	if err != nil {
		return nil, 0, "", err
	}

	sb, err := serialiseBody(opts.Body)
	if err != nil {
		return nil, 0, reqURL, err
	}

	retriesLeft = opts.effectiveRetries(c.numRetries)

	c.fireRequest(reqURL, opts)

	for {
		httpReq, err := http.NewRequestWithContext(ctx, string(opts.method()), reqURL, sb.reader)
		if err != nil {
			return nil, retriesLeft, reqURL, err
		}
		applyHeaders(httpReq, opts, sb)
		if c.auth != nil {
			c.auth.AddAuth(httpReq)
		}

		resp, err = c.agent.client().Do(httpReq)
		if err == nil {
			return resp, retriesLeft, reqURL, nil
		}
		if retriesLeft > 0 && !opts.Body.isStream() {
			retriesLeft--
			// Rewind the body reader for the redispatch, when possible.
			if seeker, ok := sb.reader.(io.Seeker); ok {
				seeker.Seek(0, io.SeekStart)
			}
			continue
		}
		return nil, retriesLeft, reqURL, classifyTransportError(err)
	}
}

func applyHeaders(req *http.Request, opts *RequestOptions, sb serialisedBody) {
	for k, v := range opts.headers() {
		req.Header.Set(k, v)
	}
	if sb.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", sb.contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if sb.size >= 0 {
		req.ContentLength = sb.size
	}
}

// openStream dispatches opts and returns the raw, still-open HTTP
// response body for callers that parse their own framing (the
// _changes and _db_updates feeds use JSON-Lines/array framing, not
// the view-row format handled by RequestStream/parseViewStream). The
// caller owns resp.Body and must close it.
func (c *Client) openStream(opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	o := *opts
	o.Stream = true
	resp, _, reqURL, err := c.dispatchCtx(context.Background(), &o)
	if err != nil {
		c.fireFailure(reqURL, &o, err, 0)
		return nil, err
	}
	if resp.StatusCode >= 400 {
		herr := parseHTTPError(reqURL, resp)
		c.fireFailure(reqURL, &o, herr, 0)
		return nil, herr
	}
	c.fireSuccess(reqURL, &o, resp.StatusCode)
	return resp, nil
}

func (c *Client) fireRequest(url string, opts *RequestOptions) {
	if c.onRequest != nil {
		c.onRequest(RequestEvent{Method: opts.method(), URL: url, Options: opts})
	}
}

func (c *Client) fireSuccess(url string, opts *RequestOptions, status int) {
	if c.onSuccess != nil {
		c.onSuccess(SuccessEvent{URL: url, Options: opts, Status: status})
	}
}

func (c *Client) fireFailure(url string, opts *RequestOptions, err error, retriesLeft int) {
	if c.onFailure != nil {
		c.onFailure(FailureEvent{URL: url, Options: opts, Err: err, NumRetriesLeft: retriesLeft})
	}
}
