// Package supabase is an auth.Backend for the hosted GoTrue service.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/topografia/internal/auth"
	"github.com/lox/topografia/internal/httputil"
)

var _ auth.Backend = (*Client)(nil)

// refreshMargin is how close to expiry GetSession refreshes proactively.
const refreshMargin = 30 * time.Second

// SessionStore persists the session between runs.
type SessionStore interface {
	LoadSession() ([]byte, error)
	SaveSession(payload []byte) error
	ClearSession() error
}

type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	store   SessionStore
	now     func() time.Time

	mu      sync.Mutex
	session *auth.Session
	loaded  bool
	events  chan auth.Event
}

// New returns a client for the auth service at baseURL. store may be nil,
// in which case sessions last only for the life of the process.
func New(baseURL, anonKey string, store SessionStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    httputil.NewClient(),
		store:   store,
		now:     time.Now,
		events:  make(chan auth.Event, 16),
	}
}

func (c *Client) Events() <-chan auth.Event {
	return c.events
}

func (c *Client) emit(t auth.EventType, sess *auth.Session) {
	select {
	case c.events <- auth.Event{Type: t, Session: sess}:
	default:
		log.Printf("supabase: event buffer full, dropping %s", t)
	}
}

// current returns the in-memory session, loading it from the store the
// first time. Callers hold c.mu.
func (c *Client) current() *auth.Session {
	if c.loaded || c.store == nil {
		c.loaded = true
		return c.session
	}
	c.loaded = true
	payload, err := c.store.LoadSession()
	if err != nil {
		log.Printf("supabase: load session: %v", err)
		return nil
	}
	if payload == nil {
		return nil
	}
	var sess auth.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		log.Printf("supabase: discarding unreadable session: %v", err)
		return nil
	}
	c.session = &sess
	return c.session
}

// replace swaps the session and persists it. Callers hold c.mu.
func (c *Client) replace(sess *auth.Session) {
	c.session = sess
	c.loaded = true
	if c.store == nil {
		return
	}
	if sess == nil {
		if err := c.store.ClearSession(); err != nil {
			log.Printf("supabase: clear session: %v", err)
		}
		return
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		log.Printf("supabase: encode session: %v", err)
		return
	}
	if err := c.store.SaveSession(payload); err != nil {
		log.Printf("supabase: save session: %v", err)
	}
}

// GetSession returns the current session, refreshing it first when the
// access token is about to expire.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	sess := c.current()
	c.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if sess.RefreshToken != "" && auth.SessionExpiring(sess, refreshMargin, c.now()) {
		refreshed, err := c.RefreshSession(ctx)
		if err != nil {
			log.Printf("supabase: proactive refresh failed: %v", err)
			return sess, nil
		}
		return refreshed, nil
	}
	return sess, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	body := map[string]string{"email": email, "password": password}
	raw, err := c.post(ctx, "/auth/v1/token?grant_type=password", "", body)
	if err != nil {
		return nil, err
	}
	sess, err := c.decodeSession(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.replace(sess)
	c.mu.Unlock()
	c.emit(auth.EventSignedIn, sess)
	return sess, nil
}

// SignUp creates an account. When the project requires email
// confirmation the backend returns only the user and the session is nil.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.Session, error) {
	body := map[string]any{"email": email, "password": password, "data": metadata}
	raw, err := c.post(ctx, "/auth/v1/signup", "", body)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "access_token").Exists() {
		return nil, nil
	}
	sess, err := c.decodeSession(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.replace(sess)
	c.mu.Unlock()
	c.emit(auth.EventSignedIn, sess)
	return sess, nil
}

// SignOut revokes the session remotely and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.current()
	c.replace(nil)
	c.mu.Unlock()
	c.emit(auth.EventSignedOut, nil)

	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	_, err := c.post(ctx, "/auth/v1/logout", sess.AccessToken, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	sess := c.current()
	c.mu.Unlock()
	if sess == nil || sess.RefreshToken == "" {
		return nil, auth.ErrNoSession
	}

	raw, err := c.post(ctx, "/auth/v1/token?grant_type=refresh_token", "", map[string]string{"refresh_token": sess.RefreshToken})
	if err != nil {
		return nil, err
	}
	refreshed, err := c.decodeSession(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.replace(refreshed)
	c.mu.Unlock()
	c.emit(auth.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// User fetches the signed-in user's profile from the auth service.
func (c *Client) User(ctx context.Context) (*auth.User, error) {
	c.mu.Lock()
	sess := c.current()
	c.mu.Unlock()
	if sess == nil {
		return nil, auth.ErrNoSession
	}

	raw, err := c.do(ctx, http.MethodGet, "/auth/v1/user", sess.AccessToken, nil)
	if err != nil {
		return nil, err
	}
	var u auth.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

func (c *Client) decodeSession(raw []byte) (*auth.Session, error) {
	var sess auth.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("decode session: missing access_token")
	}
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = c.now().Add(time.Duration(sess.ExpiresIn) * time.Second).Unix()
	}
	return &sess, nil
}

func (c *Client) post(ctx context.Context, path, token string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, token, body)
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backendError(resp.StatusCode, raw)
	}
	return raw, nil
}

// backendError reads the error shapes the auth service has used across
// versions: {error, error_description}, {code, msg} and {error_code, message}.
func backendError(status int, raw []byte) *auth.BackendError {
	be := &auth.BackendError{StatusCode: status}
	if !gjson.ValidBytes(raw) {
		be.Message = strings.TrimSpace(string(raw))
		return be
	}
	for _, path := range []string{"error_code", "error"} {
		if v := gjson.GetBytes(raw, path); v.Type == gjson.String {
			be.Code = v.String()
			break
		}
	}
	for _, path := range []string{"error_description", "msg", "message"} {
		if v := gjson.GetBytes(raw, path).String(); v != "" {
			be.Message = v
			break
		}
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}
