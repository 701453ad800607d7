package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnehpets/socialauth/kvstore"
	"github.com/mnehpets/socialauth/provider"
	"go.uber.org/zap"
)

// Manager reads and writes one session record in a kvstore.Store.
//
// A Manager is cheap; with request-scoped stores such as kvstore.Jar, build
// one per request.
type Manager struct {
	store  kvstore.Store
	key    string
	maxAge time.Duration
	codec  Codec
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Manager, or a single CreateSession call.
type Option func(*Manager)

// WithKey sets the store key. Defaults to DefaultKey.
func WithKey(key string) Option {
	return func(m *Manager) {
		m.key = key
	}
}

// WithMaxAge sets the record lifetime. Defaults to DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(m *Manager) {
		m.maxAge = d
	}
}

// WithCodec sets the serialization. Defaults to JSONCodec.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		m.codec = c
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a Manager over store.
func NewManager(store kvstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		key:    DefaultKey,
		maxAge: DefaultMaxAge,
		codec:  JSONCodec,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession stores s, replacing any existing session. opts apply to this
// write only.
func (m *Manager) CreateSession(ctx context.Context, s *Session, opts ...Option) error {
	if s == nil {
		return errors.New("session: nil session")
	}
	mm := *m
	for _, opt := range opts {
		opt(&mm)
	}
	return mm.save(ctx, s)
}

// GetSession returns the stored session, or nil if there is none. An
// expired or unreadable record is deleted and reported as absent.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	data, err := m.store.Get(ctx, m.key)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return nil, nil
	case errors.Is(err, kvstore.ErrCookieInvalid), errors.Is(err, kvstore.ErrCookieFormat):
		m.logger.Warn("discarding unreadable session record", zap.Error(err))
		return nil, m.store.Delete(ctx, m.key)
	case err != nil:
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var s Session
	if err := m.codec.Unmarshal(data, &s); err != nil {
		m.logger.Warn("discarding undecodable session record", zap.Error(err))
		return nil, m.store.Delete(ctx, m.key)
	}
	if s.Expired(m.now()) {
		m.logger.Debug("session expired", zap.String("provider", s.Provider))
		return nil, m.store.Delete(ctx, m.key)
	}
	return &s, nil
}

// UpdateSession applies update to the stored session and saves the result.
// It returns ErrNoSession when there is no session.
func (m *Manager) UpdateSession(ctx context.Context, update func(*Session)) error {
	s, err := m.GetSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrNoSession
	}
	update(s)
	return m.save(ctx, s)
}

// DeleteSession removes the session.
func (m *Manager) DeleteSession(ctx context.Context) error {
	return m.store.Delete(ctx, m.key)
}

// AddProviderToSession links ns into the existing session under
// Providers[ns.Provider], leaving the top-level fields as they were. With
// no existing session it is CreateSession.
func (m *Manager) AddProviderToSession(ctx context.Context, ns *Session) error {
	if ns == nil {
		return errors.New("session: nil session")
	}
	s, err := m.GetSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return m.save(ctx, ns)
	}
	if s.Providers == nil {
		s.Providers = make(map[string]ProviderData)
	}
	s.Providers[ns.Provider] = ns.Primary()
	return m.save(ctx, s)
}

// RemoveProviderFromSession unlinks providerID. It does nothing if there is
// no session or nothing is linked. When the last linked provider goes, the
// session reverts to its single-provider form, or is deleted if its primary
// provider was the one removed.
func (m *Manager) RemoveProviderFromSession(ctx context.Context, providerID string) error {
	s, err := m.GetSession(ctx)
	if err != nil || s == nil || s.Providers == nil {
		return err
	}
	delete(s.Providers, providerID)
	if len(s.Providers) > 0 {
		return m.save(ctx, s)
	}
	if s.Provider != "" && s.Provider != providerID {
		s.Providers = nil
		return m.save(ctx, s)
	}
	return m.DeleteSession(ctx)
}

// GetProviderData returns the tokens and profile for providerID, or nil if
// the session has none.
func (m *Manager) GetProviderData(ctx context.Context, providerID string) (*ProviderData, error) {
	s, err := m.GetSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Provider == providerID {
		pd := s.Primary()
		return &pd, nil
	}
	if pd, ok := s.Providers[providerID]; ok {
		return &pd, nil
	}
	return nil, nil
}

// RefreshAccessToken is not supported and always reports false.
func (m *Manager) RefreshAccessToken(_ context.Context, providerID, _ string) (bool, error) {
	m.logger.Debug("token refresh not supported", zap.String("provider", providerID))
	return false, nil
}

// GetUser returns the primary user, or nil.
func (m *Manager) GetUser(ctx context.Context) (*provider.Profile, error) {
	s, err := m.GetSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	return &s.User, nil
}

// IsAuthenticated reports whether an unexpired session exists.
func (m *Manager) IsAuthenticated(ctx context.Context) (bool, error) {
	s, err := m.GetSession(ctx)
	return s != nil, err
}

// GetAccessToken returns the access token for providerID, or for the
// primary provider when providerID is empty.
func (m *Manager) GetAccessToken(ctx context.Context, providerID string) (string, error) {
	if providerID == "" {
		s, err := m.GetSession(ctx)
		if err != nil || s == nil {
			return "", err
		}
		return s.AccessToken, nil
	}
	pd, err := m.GetProviderData(ctx, providerID)
	if err != nil || pd == nil {
		return "", err
	}
	return pd.AccessToken, nil
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	data, err := m.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := m.store.Set(ctx, m.key, data, m.maxAge); err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	return nil
}
