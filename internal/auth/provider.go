// Package auth tracks who is signed in. Provider wraps the hosted auth
// backend with a small state machine, a local login lockout, and a
// development bypass for unconfigured environments.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lox/topografia/internal/config"
	"github.com/lox/topografia/internal/metrics"
)

// State is the authentication state.
type State int

const (
	StateAnonymous State = iota
	StateLoading
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Development bypass credentials, accepted only in dev mode when the auth
// backend is not configured.
const (
	devEmail    = "admin@test.com"
	devPassword = "admin123"
)

func devSession() *Session {
	return &Session{
		AccessToken:  "dev-token",
		RefreshToken: "dev-refresh",
		User: User{
			ID:           "dev-user-123",
			Email:        devEmail,
			UserMetadata: map[string]any{"name": "Usuario de Desarrollo"},
		},
	}
}

// Profile is the metadata collected at sign-up.
type Profile struct {
	Name         string
	Organization string
}

type Provider struct {
	backend  Backend
	attempts *LoginAttempts
	cfg      config.Config

	mu      sync.RWMutex
	state   State
	session *Session
	dev     bool
	subs    map[int]func(State, *Session)
	nextSub int
}

func New(backend Backend, attempts *LoginAttempts, cfg config.Config) *Provider {
	if attempts == nil {
		attempts = NewLoginAttempts(NewMemoryAttemptStore())
	}
	return &Provider{
		backend:  backend,
		attempts: attempts,
		cfg:      cfg,
		subs:     make(map[int]func(State, *Session)),
	}
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (p *Provider) Subscribe(fn func(State, *Session)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Provider) set(state State, sess *Session) {
	p.mu.Lock()
	if p.state == state && p.session == sess {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.session = sess
	subs := make([]func(State, *Session), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(state, sess)
	}
}

func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Session returns the current session, or nil when not authenticated.
func (p *Provider) Session() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// User returns the signed-in user, or nil.
func (p *Provider) User() *User {
	if sess := p.Session(); sess != nil {
		u := sess.User
		return &u
	}
	return nil
}

// Start loads the initial session and then follows backend session events
// until ctx is done. It returns once the initial load has finished.
func (p *Provider) Start(ctx context.Context) error {
	p.set(StateLoading, nil)

	sess, err := p.backend.GetSession(ctx)
	if err != nil {
		log.Printf("auth: initial session: %v", err)
		p.set(StateAnonymous, nil)
	} else if sess != nil && sess.User.ID != "" {
		p.set(StateAuthenticated, sess)
	} else {
		p.set(StateAnonymous, nil)
	}

	events := p.backend.Events()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				p.handleEvent(ev)
			}
		}
	}()
	return err
}

func (p *Provider) handleEvent(ev Event) {
	switch ev.Type {
	case EventSignedOut:
		p.set(StateAnonymous, nil)
	case EventSignedIn, EventTokenRefreshed, EventUserUpdated:
		if ev.Session != nil && ev.Session.User.ID != "" {
			p.set(StateAuthenticated, ev.Session)
		} else {
			p.set(StateAnonymous, nil)
		}
	default:
		log.Printf("auth: ignoring session event %q", ev.Type)
	}
}

// SignIn authenticates with email and password.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)

	if locked, remaining := p.attempts.Locked(email); locked {
		metrics.LoginLockouts.Inc()
		mins := int(math.Ceil(remaining.Minutes()))
		log.Printf("auth: sign-in for %s rejected locally, locked for %s", MaskEmail(email), remaining.Round(time.Second))
		return nil, &UserError{Message: fmt.Sprintf(msgLockedOut, mins), Err: ErrLockedOut}
	}

	prevState, prevSession := p.State(), p.Session()
	p.set(StateLoading, prevSession)

	if !p.cfg.AuthConfigured() {
		if p.cfg.DevMode && email == devEmail && password == devPassword {
			log.Printf("auth: development bypass sign-in for %s", MaskEmail(email))
			sess := devSession()
			p.mu.Lock()
			p.dev = true
			p.mu.Unlock()
			p.set(StateAuthenticated, sess)
			return sess, nil
		}
		p.set(prevState, prevSession)
		log.Printf("auth: sign-in refused, auth backend not configured")
		return nil, &UserError{Message: msgInvalidConfig, Err: ErrInvalidConfig}
	}

	sess, err := p.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		p.set(prevState, prevSession)
		var be *BackendError
		if errors.As(err, &be) && be.Rejected() {
			n := p.attempts.Failed(email)
			log.Printf("auth: sign-in failed for %s (%d/%d): %v", MaskEmail(email), n, MaxLoginAttempts, err)
		} else {
			log.Printf("auth: sign-in error for %s: %v", MaskEmail(email), err)
		}
		return nil, mapBackendError(err)
	}

	p.attempts.Reset(email)
	p.mu.Lock()
	p.dev = false
	p.mu.Unlock()
	p.set(StateAuthenticated, sess)
	return sess, nil
}

// SignUp registers a new account. The profile row is created by the
// backend from the metadata; no separate profile call is made.
func (p *Provider) SignUp(ctx context.Context, email, password string, profile Profile) (*Session, error) {
	if !p.cfg.AuthConfigured() {
		return nil, &UserError{Message: msgInvalidConfig, Err: ErrInvalidConfig}
	}

	var org any
	if profile.Organization != "" {
		org = profile.Organization
	}
	metadata := map[string]any{
		"nombre":       profile.Name,
		"organizacion": org,
		"empresa":      org,
	}

	sess, err := p.backend.SignUp(ctx, strings.TrimSpace(email), password, metadata)
	if err != nil {
		log.Printf("auth: sign-up failed for %s: %v", MaskEmail(email), err)
		return nil, mapBackendError(err)
	}
	if sess != nil && sess.User.ID != "" && sess.AccessToken != "" {
		p.set(StateAuthenticated, sess)
	}
	return sess, nil
}

// SignOut ends the session. Local state is cleared even if the backend
// call fails.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	dev := p.dev
	p.dev = false
	p.mu.Unlock()

	var err error
	if !dev {
		err = p.backend.SignOut(ctx)
		if err != nil {
			log.Printf("auth: sign out: %v", err)
			err = mapBackendError(err)
		}
	}
	p.set(StateAnonymous, nil)
	return err
}

// RefreshSession renews the access token and returns the new one.
func (p *Provider) RefreshSession(ctx context.Context) (string, error) {
	p.mu.RLock()
	dev := p.dev
	p.mu.RUnlock()
	if dev {
		return "", ErrNoSession
	}

	sess, err := p.backend.RefreshSession(ctx)
	if err != nil {
		log.Printf("auth: refresh session: %v", err)
		return "", err
	}
	if sess == nil || sess.AccessToken == "" {
		return "", ErrNoSession
	}
	p.set(StateAuthenticated, sess)
	return sess.AccessToken, nil
}

// AccessToken returns the current access token, or "" when signed out.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	dev, current := p.dev, p.session
	p.mu.RUnlock()
	if dev && current != nil {
		return current.AccessToken, nil
	}

	sess, err := p.backend.GetSession(ctx)
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return "", nil
	}
	return sess.AccessToken, nil
}
