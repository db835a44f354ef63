// Package apiclient talks to the survey REST API. Every request carries
// the current bearer token; a 401 triggers one token refresh and one
// replay, and a failed refresh signs the user out.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lox/topografia/internal/httputil"
	"github.com/lox/topografia/internal/metrics"
)

// SessionSource supplies and renews access tokens. auth.Provider is the
// production implementation.
type SessionSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshSession(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
}

type Client struct {
	baseURL    string
	http       *http.Client
	session    SessionSource
	devHeaders bool
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithSession(s SessionSource) Option {
	return func(c *Client) { c.session = s }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = httputil.NewClientWithTimeout(d) }
}

// WithDevHeaders adds an X-Request-Time header to every request.
func WithDevHeaders(enabled bool) Option {
	return func(c *Client) { c.devHeaders = enabled }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httputil.NewClient(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

// Raw sends body as JSON and returns the undecoded response, for
// endpoints that answer with files.
func (c *Client) Raw(ctx context.Context, method, path string, body any) ([]byte, string, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(ctx, method, path, request{body: payload, contentType: "application/json"})
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.contentType, nil
}

// Upload posts a multipart form with one file part and decodes the JSON reply.
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, fileField, filename string, data []byte, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, request{body: buf.Bytes(), contentType: mw.FormDataContentType()})
	if err != nil {
		return err
	}
	return decodeInto(resp.body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, method, path, request{body: payload, contentType: "application/json"})
	if err != nil {
		return err
	}
	return decodeInto(resp.body, out)
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if b, ok := body.([]byte); ok {
		return b, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return b, nil
}

func decodeInto(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], body...)
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type request struct {
	body        []byte
	contentType string
	token       string // overrides the session token on replay
	retried     bool
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (c *Client) do(ctx context.Context, method, path string, req request) (*response, error) {
	resp, err := c.send(ctx, method, path, req)
	if err == nil {
		return resp, nil
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || req.retried || c.session == nil {
		return nil, err
	}

	token, refreshErr := c.session.RefreshSession(ctx)
	if refreshErr != nil || token == "" {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		if refreshErr == nil {
			refreshErr = errors.New("no session after refresh")
		}
		log.Printf("apiclient: token refresh failed, signing out: %v", refreshErr)
		if signOutErr := c.session.SignOut(ctx); signOutErr != nil {
			log.Printf("apiclient: sign out: %v", signOutErr)
		}
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()

	req.token = token
	req.retried = true
	return c.send(ctx, method, path, req)
}

func (c *Client) send(ctx context.Context, method, path string, req request) (*response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if c.devHeaders {
		httpReq.Header.Set("X-Request-Time", c.now().UTC().Format(time.RFC3339Nano))
	}

	token := req.token
	if token == "" && c.session != nil {
		t, err := c.session.AccessToken(ctx)
		if err != nil {
			log.Printf("apiclient: get session: %v", err)
		}
		token = t
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	endpoint := endpointLabel(path)
	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	metrics.APILatency.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICallsTotal.WithLabelValues(method, endpoint, "error").Inc()
		log.Printf("apiclient: %s %s: %v", method, path, err)
		return nil, networkError(method, path, err)
	}
	defer httpResp.Body.Close()

	metrics.APICallsTotal.WithLabelValues(method, endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		log.Printf("apiclient: %s %s: read body: %v", method, path, err)
		return nil, networkError(method, path, err)
	}

	resp := &response{
		status:      httpResp.StatusCode,
		contentType: httpResp.Header.Get("Content-Type"),
		body:        respBody,
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := responseError(method, path, resp.status, resp.contentType, respBody)
		log.Printf("apiclient: %s %s: status %d: %s", method, path, resp.status, firstNonEmpty(apiErr.ServerMessage, apiErr.Message))
		return nil, apiErr
	}
	return resp, nil
}

var idSegment = regexp.MustCompile(`^([0-9]+|[0-9a-fA-F-]{36})$`)

// endpointLabel collapses IDs so metric cardinality stays bounded.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if idSegment.MatchString(p) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
