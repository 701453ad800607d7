package web

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mnehpets/socialauth/kvstore"
)

// SessionIDCookie names the cookie that carries the session id when
// sessions are kept server side.
const SessionIDCookie = "auth-sid"

// serverStore keeps values in backend under a per-browser scope. The scope
// is a random session id kept in a sealed cookie, created on first write.
type serverStore struct {
	jar     *kvstore.Jar
	backend kvstore.Store
}

var _ kvstore.Store = (*serverStore)(nil)

func (s *serverStore) scope(ctx context.Context) (kvstore.Store, error) {
	sid, err := s.jar.Get(ctx, SessionIDCookie)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.ParseBytes(sid); err != nil {
		return nil, kvstore.ErrNotFound
	}
	return kvstore.Scoped(s.backend, "session:"+string(sid)), nil
}

func (s *serverStore) Get(ctx context.Context, key string) ([]byte, error) {
	scoped, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	return scoped.Get(ctx, key)
}

func (s *serverStore) Set(ctx context.Context, key string, value []byte, maxAge time.Duration) error {
	scoped, err := s.scope(ctx)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) && !errors.Is(err, kvstore.ErrCookieInvalid) && !errors.Is(err, kvstore.ErrCookieFormat) {
			return err
		}
		sid := uuid.NewString()
		scoped = kvstore.Scoped(s.backend, "session:"+sid)
		if err := s.jar.Set(ctx, SessionIDCookie, []byte(sid), maxAge); err != nil {
			return err
		}
	} else if sid, err := s.jar.Get(ctx, SessionIDCookie); err == nil {
		// Refresh the cookie lifetime to match the record.
		if err := s.jar.Set(ctx, SessionIDCookie, sid, maxAge); err != nil {
			return err
		}
	}
	return scoped.Set(ctx, key, value, maxAge)
}

func (s *serverStore) Delete(ctx context.Context, key string) error {
	scoped, err := s.scope(ctx)
	if err == nil {
		if err := scoped.Delete(ctx, key); err != nil {
			return err
		}
	}
	return s.jar.Delete(ctx, SessionIDCookie)
}
