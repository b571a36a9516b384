// Package auth signs cashiers in against the identity provider when the
// device is online and against a locally stored credential when it is not.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/identity"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// IdentityProvider performs an online sign-in.
type IdentityProvider interface {
	Login(ctx context.Context, email, password string) (*identity.Identity, error)
}

// SessionStore persists the device session and offline credential.
type SessionStore interface {
	SaveLogin(ctx context.Context, sess domain.Session, cred domain.Credential) error
	SaveSession(ctx context.Context, sess domain.Session) error
	LoadSession(ctx context.Context) (*domain.Session, error)
	LoadCredential(ctx context.Context) (*domain.Credential, error)
	MarkSessionSignedOut(ctx context.Context) error
	ClearLogin(ctx context.Context) error
}

// ModeSource reports whether the device is online.
type ModeSource interface {
	IsOnline() bool
}

// Config holds session lifetimes.
type Config struct {
	// SessionTTL bounds every session. Access token expiry is recorded on
	// the session but does not end it.
	SessionTTL time.Duration
	// StoreID is used when the identity provider does not name a store.
	StoreID string
}

// Manager owns the device's single session.
type Manager struct {
	store  SessionStore
	idp    IdentityProvider
	mode   ModeSource
	hasher Hasher
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *domain.Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithHasher overrides the argon2id parameters.
func WithHasher(h Hasher) Option {
	return func(m *Manager) { m.hasher = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(store SessionStore, idp IdentityProvider, mode ModeSource, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	m := &Manager{
		store:  store,
		idp:    idp,
		mode:   mode,
		hasher: DefaultHasher(),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn authenticates online when the device is online, offline otherwise.
// An online attempt that cannot reach the provider falls back to the stored
// credential.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperrors.InvalidInput("email and password are required")
	}

	if !m.mode.IsOnline() {
		return m.signInOffline(ctx, email, password)
	}

	sess, err := m.signInOnline(ctx, email, password)
	if err == nil || !apperrors.IsTransient(err) {
		return sess, err
	}

	m.logger.WarnContext(ctx, "identity provider unreachable, trying offline sign-in",
		slog.String("error", err.Error()),
	)
	sess, offlineErr := m.signInOffline(ctx, email, password)
	if errors.Is(offlineErr, ErrOfflineAuthUnavailable) {
		return nil, needsConnectivity(err)
	}
	return sess, offlineErr
}

func (m *Manager) signInOnline(ctx context.Context, email, password string) (*domain.Session, error) {
	id, err := m.idp.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, err
	}

	hash, salt, err := m.hasher.Hash(password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := m.now().UTC()
	var tokenExpires *time.Time
	if !id.ExpiresAt.IsZero() {
		t := id.ExpiresAt.UTC()
		tokenExpires = &t
	}
	storeID := id.StoreID
	if storeID == "" {
		storeID = m.cfg.StoreID
	}

	sess := domain.Session{
		SessionID:      uuid.NewString(),
		UserID:         id.UserID,
		StoreID:        storeID,
		Email:          email,
		Metadata:       stringMetadata(id.Metadata),
		Mode:           domain.ModeOnline,
		ExpiresAt:      now.Add(m.cfg.SessionTTL),
		AccessToken:    id.AccessToken,
		TokenExpiresAt: tokenExpires,
		CreatedAt:      now,
	}
	cred := domain.Credential{
		Email:          email,
		HashedPassword: hash,
		Salt:           salt,
	}
	if err := m.store.SaveLogin(ctx, sess, cred); err != nil {
		return nil, err
	}

	m.setCurrent(&sess)
	m.logger.InfoContext(ctx, "signed in online",
		slog.String("user_id", sess.UserID),
		slog.String("session_id", sess.SessionID),
	)
	return &sess, nil
}

func (m *Manager) signInOffline(ctx context.Context, email, password string) (*domain.Session, error) {
	stored, err := m.store.LoadSession(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, offlineUnavailable("no stored session on this device")
	case err != nil:
		return nil, corrupted(err)
	}

	now := m.now().UTC()
	if stored.Expired(now) {
		return nil, offlineUnavailable("stored session expired")
	}

	cred, err := m.store.LoadCredential(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, offlineUnavailable("no stored credential on this device")
	case err != nil:
		return nil, corrupted(err)
	}
	if len(cred.HashedPassword) == 0 || len(cred.Salt) == 0 {
		return nil, corrupted(fmt.Errorf("credential for %s has no hash", cred.Email))
	}

	if normalizeEmail(cred.Email) != email || !m.hasher.Verify(password, cred.HashedPassword, cred.Salt) {
		return nil, invalidCredentials()
	}

	sess := *stored
	sess.SessionID = uuid.NewString()
	sess.Mode = domain.ModeOffline
	sess.SignedOut = false
	sess.ExpiresAt = now.Add(m.cfg.SessionTTL)
	sess.CreatedAt = now
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	m.setCurrent(&sess)
	m.logger.InfoContext(ctx, "signed in offline",
		slog.String("user_id", sess.UserID),
		slog.String("session_id", sess.SessionID),
	)
	return &sess, nil
}

// SignOut ends the session. Online, the stored session and credential are
// removed; offline, the session is only flagged so the cashier can sign in
// again without connectivity.
func (m *Manager) SignOut(ctx context.Context) error {
	var err error
	if m.mode.IsOnline() {
		err = m.store.ClearLogin(ctx)
	} else {
		err = m.store.MarkSessionSignedOut(ctx)
	}
	if err != nil {
		return err
	}
	m.setCurrent(nil)
	m.logger.InfoContext(ctx, "signed out", slog.Bool("online", m.mode.IsOnline()))
	return nil
}

// SetMode retags the session for mode. Going offline with no session in
// memory restores a valid stored one.
func (m *Manager) SetMode(ctx context.Context, mode domain.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		if mode != domain.ModeOffline {
			return nil
		}
		stored, err := m.store.LoadSession(ctx)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return corrupted(err)
		}
		if !stored.Active(m.now()) {
			return nil
		}
		m.current = stored
	}

	if m.current.Mode == mode {
		return nil
	}
	next := *m.current
	next.Mode = mode
	if err := m.store.SaveSession(ctx, next); err != nil {
		return err
	}
	m.current = &next
	return nil
}

// OnModeChanged adapts SetMode to a mode manager listener.
func (m *Manager) OnModeChanged(ev domain.ModeChanged) {
	if err := m.SetMode(context.Background(), ev.Mode); err != nil {
		m.logger.Error("failed to retag session after mode change",
			slog.String("mode", string(ev.Mode)),
			slog.String("error", err.Error()),
		)
	}
}

// Restore loads a still-valid stored session into memory, as after a
// restart.
func (m *Manager) Restore(ctx context.Context) (*domain.Session, error) {
	stored, err := m.store.LoadSession(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, corrupted(err)
	}
	if !stored.Active(m.now()) {
		return nil, nil
	}
	m.setCurrent(stored)
	return stored, nil
}

// CurrentSession returns a copy of the in-memory session, or nil when
// nobody is signed in or the session has expired.
func (m *Manager) CurrentSession() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.Active(m.now()) {
		return nil
	}
	sess := *m.current
	return &sess
}

// Authenticate returns the active session or a typed error saying why there
// is none.
func (m *Manager) Authenticate() (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.current == nil:
		return nil, notSignedIn()
	case m.current.Expired(m.now()):
		return nil, reauthRequired()
	}
	sess := *m.current
	return &sess, nil
}

// StoredSession returns the persisted session regardless of expiry.
func (m *Manager) StoredSession(ctx context.Context) (*domain.Session, error) {
	sess, err := m.store.LoadSession(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, corrupted(err)
	}
	return sess, err
}

func (m *Manager) setCurrent(sess *domain.Session) {
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stringMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
