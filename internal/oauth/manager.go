// Package oauth keeps a user's remote calendar access token usable: it decrypts
// stored tokens, refreshes expired ones and persists the result.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"gitea.jw6.us/james/reservo/internal/lock"
	"gitea.jw6.us/james/reservo/internal/metrics"
	"gitea.jw6.us/james/reservo/internal/store"
)

const (
	// refreshSkew is compared against the stored expiry: a token is refreshed
	// once its expiry lies at least this far in the past.
	refreshSkew    = 60 * time.Second
	refreshTimeout = 15 * time.Second
)

// CredentialStore is the persistence the manager needs.
type CredentialStore interface {
	GetByUser(ctx context.Context, userID int64) (*store.CalendarCredential, error)
	Upsert(ctx context.Context, cred store.CalendarCredential) (*store.CalendarCredential, error)
}

// Vault encrypts tokens at rest.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(serialized string) (string, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshOutcome reports what happened to the access token during
// GetUsableCredential.
type RefreshOutcome string

const (
	RefreshNotNeeded RefreshOutcome = "not_needed"
	RefreshSucceeded RefreshOutcome = "succeeded"
	RefreshFailed    RefreshOutcome = "failed"
	// RefreshContended means another instance holds the refresh lock; the
	// stored token is returned as is.
	RefreshContended RefreshOutcome = "contended"
)

// Tokens is a plaintext token grant to be stored for a user.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	TokenType    string
	Expiry       time.Time
}

// TokensFromOAuth2 converts a token returned by an oauth2 exchange.
func TokensFromOAuth2(tok *oauth2.Token) Tokens {
	if tok == nil {
		return Tokens{}
	}
	t := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}

// Client is an authorized handle for remote calendar calls. When the refresh
// failed or was contended the token may be stale; the remote call then
// surfaces the authoritative error.
type Client struct {
	UserID  int64
	Scope   *string
	Outcome RefreshOutcome
	// RefreshErr explains a RefreshFailed outcome. It is also set on
	// RefreshSucceeded when the new token could not be persisted.
	RefreshErr error

	token *oauth2.Token
}

// Token returns a copy of the current token.
func (c *Client) Token() *oauth2.Token {
	if c == nil || c.token == nil {
		return nil
	}
	tok := *c.token
	return &tok
}

// TokenSource never refreshes on its own; refresh is owned by the Manager.
func (c *Client) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(c.Token())
}

// Manager implements credential retrieval, refresh and storage.
type Manager struct {
	store     CredentialStore
	vault     Vault
	refresher Refresher
	locker    lock.Locker
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
	group     singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker guards refreshes across processes.
func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(creds CredentialStore, vault Vault, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     creds,
		vault:     vault,
		refresher: refresher,
		lockTTL:   lock.DefaultTTL,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetUsableCredential loads and decrypts the user's tokens, refreshing the
// access token at most once when it has expired. Refresh failures are not
// returned as errors; they are reported through Client.Outcome.
func (m *Manager) GetUsableCredential(ctx context.Context, userID int64) (*Client, error) {
	cred, err := m.store.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("load calendar credential: %w", err)
	}

	access, err := m.vault.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %w", ErrCorruptCredential, err)
	}
	refresh, err := m.vault.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %w", ErrCorruptCredential, err)
	}

	client := &Client{
		UserID:  userID,
		Scope:   cred.Scope,
		Outcome: RefreshNotNeeded,
		token:   buildToken(access, refresh, cred.TokenType, cred.ExpiresAt),
	}
	if !m.needsRefresh(cred.ExpiresAt) {
		return client, nil
	}

	v, _, _ := m.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		return m.refresh(ctx, cred, refresh), nil
	})
	res := v.(refreshResult)

	client.Outcome = res.outcome
	client.RefreshErr = res.err
	if res.cred != nil {
		client.Scope = res.cred.Scope
		client.token = res.token
	}
	return client, nil
}

func (m *Manager) needsRefresh(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !expiresAt.After(m.now().Add(-refreshSkew))
}

type refreshResult struct {
	outcome RefreshOutcome
	err     error
	cred    *store.CalendarCredential
	token   *oauth2.Token
}

func (m *Manager) refresh(ctx context.Context, cred *store.CalendarCredential, refreshToken string) refreshResult {
	// Callers sharing this refresh must not be cancelled by the first one.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	logger := m.logger.With(zap.Int64("user_id", cred.UserID))

	if m.locker != nil {
		handle, err := m.locker.Acquire(ctx, "oauth-refresh:"+strconv.FormatInt(cred.UserID, 10), m.lockTTL)
		switch {
		case errors.Is(err, lock.ErrHeld):
			logger.Info("calendar token refresh already in progress elsewhere")
			metrics.IncRefresh(string(RefreshContended))
			return refreshResult{outcome: RefreshContended}
		case err != nil:
			logger.Warn("refresh lock unavailable, refreshing without it", zap.Error(err))
		default:
			defer func() {
				if err := handle.Unlock(ctx); err != nil {
					logger.Warn("release refresh lock", zap.Error(err))
				}
			}()
		}
	}

	result := m.doRefresh(ctx, cred, refreshToken)
	metrics.IncRefresh(string(result.outcome))
	switch {
	case result.outcome == RefreshFailed:
		logger.Warn("calendar token refresh failed, using stored token", zap.Error(result.err))
	case result.err != nil:
		logger.Error("persist refreshed calendar token", zap.Error(result.err))
	default:
		logger.Debug("calendar token refreshed")
	}
	return result
}

func (m *Manager) doRefresh(ctx context.Context, cred *store.CalendarCredential, refreshToken string) refreshResult {
	tok, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return refreshResult{outcome: RefreshFailed, err: fmt.Errorf("refresh access token: %w", err)}
	}
	if tok == nil || tok.AccessToken == "" {
		return refreshResult{outcome: RefreshFailed, err: ErrMissingAccessToken}
	}

	encAccess, err := m.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return refreshResult{outcome: RefreshFailed, err: fmt.Errorf("encrypt access token: %w", err)}
	}

	updated := *cred
	updated.AccessToken = encAccess

	newRefresh := refreshToken
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		encRefresh, err := m.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return refreshResult{outcome: RefreshFailed, err: fmt.Errorf("encrypt refresh token: %w", err)}
		}
		updated.RefreshToken = encRefresh
		newRefresh = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		updated.ExpiresAt = &expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		updated.Scope = &scope
	}
	if tok.TokenType != "" {
		tokenType := tok.TokenType
		updated.TokenType = &tokenType
	}

	result := refreshResult{
		outcome: RefreshSucceeded,
		cred:    &updated,
		token:   buildToken(tok.AccessToken, newRefresh, updated.TokenType, updated.ExpiresAt),
	}
	if _, err := m.store.Upsert(ctx, updated); err != nil {
		result.err = fmt.Errorf("persist refreshed token: %w", err)
	}
	return result
}

// Store persists a token grant for the user. A grant without a refresh token
// keeps the one already on record.
func (m *Manager) Store(ctx context.Context, userID int64, t Tokens) (*store.CalendarCredential, error) {
	if t.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	existing, err := m.store.GetByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load calendar credential: %w", err)
		}
		existing = nil
	}

	refresh := t.RefreshToken
	if refresh == "" && existing != nil {
		refresh, err = m.vault.Decrypt(existing.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: refresh token: %w", ErrCorruptCredential, err)
		}
	}
	if refresh == "" {
		return nil, ErrMissingRefreshToken
	}

	encAccess, err := m.vault.Encrypt(t.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := m.vault.Encrypt(refresh)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	cred := store.CalendarCredential{
		UserID:       userID,
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
	}
	if existing != nil {
		cred.Scope = existing.Scope
		cred.TokenType = existing.TokenType
		cred.ExpiresAt = existing.ExpiresAt
	}
	if t.Scope != "" {
		scope := t.Scope
		cred.Scope = &scope
	}
	if t.TokenType != "" {
		tokenType := t.TokenType
		cred.TokenType = &tokenType
	}
	if !t.Expiry.IsZero() {
		expiry := t.Expiry.UTC()
		cred.ExpiresAt = &expiry
	}

	saved, err := m.store.Upsert(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("store calendar credential: %w", err)
	}
	m.logger.Info("calendar credential stored", zap.Int64("user_id", userID))
	return saved, nil
}

func buildToken(access, refresh string, tokenType *string, expiresAt *time.Time) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh}
	if tokenType != nil {
		tok.TokenType = *tokenType
	}
	if expiresAt != nil {
		tok.Expiry = *expiresAt
	}
	return tok
}
