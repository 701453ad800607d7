package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/mnehpets/socialauth/kvstore"
	"github.com/mnehpets/socialauth/provider"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sessionFor(providerID, userID, token string) *Session {
	return &Session{
		User: provider.Profile{
			ID:                userID,
			Name:              "User " + userID,
			DisplayName:       userID,
			Provider:          providerID,
			ProviderAccountID: userID,
			Raw:               json.RawMessage(`{"id":"` + userID + `"}`),
		},
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		ExpiresAt:    t0.Add(time.Hour).UnixMilli(),
		Provider:     providerID,
		CreatedAt:    t0.UnixMilli(),
	}
}

func newTestManager(opts ...Option) (*Manager, *kvstore.Memory) {
	mem := kvstore.NewMemory(time.Minute)
	return NewManager(mem, append([]Option{WithClock(fixedClock(t0))}, opts...)...), mem
}

func TestLifecycle(t *testing.T) {
	for _, tc := range []struct {
		name  string
		codec Codec
	}{
		{"json", JSONCodec},
		{"cbor", CBORCodec},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			m, _ := newTestManager(WithCodec(tc.codec))

			if s, err := m.GetSession(ctx); s != nil || err != nil {
				t.Fatalf("GetSession on empty store = %v, %v", s, err)
			}
			want := sessionFor("google", "g1", "at1")
			if err := m.CreateSession(ctx, want); err != nil {
				t.Fatal(err)
			}
			got, err := m.GetSession(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got  %+v\nwant %+v", got, want)
			}
			if ok, _ := m.IsAuthenticated(ctx); !ok {
				t.Error("IsAuthenticated = false")
			}
			if err := m.DeleteSession(ctx); err != nil {
				t.Fatal(err)
			}
			if s, _ := m.GetSession(ctx); s != nil {
				t.Fatalf("session survived delete: %+v", s)
			}
			// Idempotent.
			if err := m.DeleteSession(ctx); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestGetSession_ExpiredIsDeleted(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory(time.Minute)
	now := t0
	m := NewManager(mem, WithClock(func() time.Time { return now }))

	s := sessionFor("github", "1", "tok")
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	now = t0.Add(time.Hour)
	if got, _ := m.GetSession(ctx); got == nil {
		t.Fatal("session at exact expiry should still be readable")
	}
	now = t0.Add(time.Hour + time.Millisecond)
	if got, err := m.GetSession(ctx); got != nil || err != nil {
		t.Fatalf("expired GetSession = %+v, %v", got, err)
	}
	if _, err := mem.Get(ctx, DefaultKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("expired record not deleted: %v", err)
	}
}

func TestGetSession_NoExpiry(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	s := sessionFor("github", "1", "tok")
	s.ExpiresAt = 0
	_ = m.CreateSession(ctx, s)
	if got, _ := m.GetSession(ctx); got == nil {
		t.Fatal("session without expiry should not expire")
	}
}

func TestGetSession_Undecodable(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()
	_ = mem.Set(ctx, DefaultKey, []byte("not json"), time.Minute)

	if s, err := m.GetSession(ctx); s != nil || err != nil {
		t.Fatalf("GetSession = %v, %v", s, err)
	}
	if _, err := mem.Get(ctx, DefaultKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("undecodable record not deleted")
	}
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	err := m.UpdateSession(ctx, func(s *Session) { s.AccessToken = "x" })
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("UpdateSession without session err = %v", err)
	}

	_ = m.CreateSession(ctx, sessionFor("google", "g1", "old"))
	if err := m.UpdateSession(ctx, func(s *Session) { s.AccessToken = "new" }); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetSession(ctx)
	if got.AccessToken != "new" || got.User.ID != "g1" {
		t.Errorf("after update: %+v", got)
	}
}

func TestCreateSession_PerCallMaxAge(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()
	_ = m.CreateSession(ctx, sessionFor("google", "g1", "t"), WithMaxAge(10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	if _, err := mem.Get(ctx, DefaultKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("record outlived its max age: %v", err)
	}
	if m.maxAge != DefaultMaxAge {
		t.Errorf("per-call option leaked into manager: %v", m.maxAge)
	}
}

func TestAddProviderToSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	a := sessionFor("google", "g1", "ga")
	b := sessionFor("github", "h1", "hb")

	// No existing session: same as create.
	if err := m.AddProviderToSession(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetSession(ctx)
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("first add should create: %+v", got)
	}

	if err := m.AddProviderToSession(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetSession(ctx)
	top := *got
	top.Providers = nil
	if !reflect.DeepEqual(&top, a) {
		t.Errorf("top-level fields changed:\n got  %+v\n want %+v", top, *a)
	}
	want := ProviderData{AccessToken: "hb", RefreshToken: "refresh-hb", ExpiresAt: b.ExpiresAt, User: b.User}
	if !reflect.DeepEqual(got.Providers["github"], want) {
		t.Errorf("providers[github] = %+v", got.Providers["github"])
	}
	if ids := got.ProviderIDs(); !reflect.DeepEqual(ids, []string{"google", "github"}) {
		t.Errorf("ProviderIDs = %v", ids)
	}

	// Re-linking overwrites.
	b2 := sessionFor("github", "h1", "hb2")
	_ = m.AddProviderToSession(ctx, b2)
	got, _ = m.GetSession(ctx)
	if got.Providers["github"].AccessToken != "hb2" || len(got.Providers) != 1 {
		t.Errorf("relink: %+v", got.Providers)
	}
}

func TestRemoveProviderFromSession(t *testing.T) {
	ctx := context.Background()

	t.Run("restores single-provider shape", func(t *testing.T) {
		m, _ := newTestManager()
		a := sessionFor("google", "g1", "ga")
		_ = m.CreateSession(ctx, a)
		_ = m.AddProviderToSession(ctx, sessionFor("github", "h1", "hb"))

		if err := m.RemoveProviderFromSession(ctx, "github"); err != nil {
			t.Fatal(err)
		}
		got, _ := m.GetSession(ctx)
		if got == nil || got.Providers != nil {
			t.Fatalf("after remove: %+v", got)
		}
		if !reflect.DeepEqual(got, a) {
			t.Errorf("got  %+v\nwant %+v", got, a)
		}
	})

	t.Run("keeps other linked providers", func(t *testing.T) {
		m, _ := newTestManager()
		_ = m.CreateSession(ctx, sessionFor("google", "g1", "ga"))
		_ = m.AddProviderToSession(ctx, sessionFor("github", "h1", "hb"))
		_ = m.AddProviderToSession(ctx, sessionFor("discord", "d1", "dc"))

		_ = m.RemoveProviderFromSession(ctx, "github")
		got, _ := m.GetSession(ctx)
		if _, ok := got.Providers["discord"]; !ok || len(got.Providers) != 1 {
			t.Errorf("providers = %+v", got.Providers)
		}
	})

	t.Run("deletes when primary was the only entry", func(t *testing.T) {
		m, _ := newTestManager()
		_ = m.CreateSession(ctx, sessionFor("google", "g1", "ga"))
		_ = m.AddProviderToSession(ctx, sessionFor("google", "g1", "ga2"))

		_ = m.RemoveProviderFromSession(ctx, "google")
		if got, _ := m.GetSession(ctx); got != nil {
			t.Errorf("session should be deleted: %+v", got)
		}
	})

	t.Run("no-op without linked providers", func(t *testing.T) {
		m, _ := newTestManager()
		if err := m.RemoveProviderFromSession(ctx, "google"); err != nil {
			t.Fatal(err)
		}
		a := sessionFor("google", "g1", "ga")
		_ = m.CreateSession(ctx, a)
		_ = m.RemoveProviderFromSession(ctx, "google")
		if got, _ := m.GetSession(ctx); !reflect.DeepEqual(got, a) {
			t.Errorf("single-provider session changed: %+v", got)
		}
	})
}

func TestGetProviderData(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	if pd, err := m.GetProviderData(ctx, "google"); pd != nil || err != nil {
		t.Fatalf("empty: %v, %v", pd, err)
	}
	_ = m.CreateSession(ctx, sessionFor("google", "g1", "ga"))
	_ = m.AddProviderToSession(ctx, sessionFor("github", "h1", "hb"))

	if pd, _ := m.GetProviderData(ctx, "google"); pd == nil || pd.AccessToken != "ga" {
		t.Errorf("primary = %+v", pd)
	}
	if pd, _ := m.GetProviderData(ctx, "github"); pd == nil || pd.User.ID != "h1" {
		t.Errorf("linked = %+v", pd)
	}
	if pd, _ := m.GetProviderData(ctx, "twitter"); pd != nil {
		t.Errorf("unlinked = %+v", pd)
	}

	if tok, _ := m.GetAccessToken(ctx, ""); tok != "ga" {
		t.Errorf("GetAccessToken(\"\") = %q", tok)
	}
	if tok, _ := m.GetAccessToken(ctx, "github"); tok != "hb" {
		t.Errorf("GetAccessToken(github) = %q", tok)
	}
	if u, _ := m.GetUser(ctx); u == nil || u.ID != "g1" {
		t.Errorf("GetUser = %+v", u)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	m, _ := newTestManager()
	ok, err := m.RefreshAccessToken(context.Background(), "google", "rt")
	if ok || err != nil {
		t.Errorf("RefreshAccessToken = %v, %v", ok, err)
	}
}

func TestCookieJarStore(t *testing.T) {
	ctx := context.Background()
	keys := map[string][]byte{"k": make([]byte, kvstore.DefaultAEADKeysize)}
	cs, err := kvstore.NewCookieStore("k", keys)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	m := NewManager(cs.Bind(w, httptest.NewRequest(http.MethodGet, "/", nil)), WithClock(fixedClock(t0)), WithCodec(CBORCodec))
	s := sessionFor("line", "U1", "lt")
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	m2 := NewManager(cs.Bind(httptest.NewRecorder(), r), WithClock(fixedClock(t0)), WithCodec(CBORCodec))
	got, err := m2.GetSession(ctx)
	if err != nil || !reflect.DeepEqual(got, s) {
		t.Fatalf("GetSession = %+v, %v", got, err)
	}

	// A tampered cookie reads as no session.
	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.AddCookie(&http.Cookie{Name: DefaultKey, Value: "k.AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"})
	w3 := httptest.NewRecorder()
	m3 := NewManager(cs.Bind(w3, bad))
	if got, err := m3.GetSession(ctx); got != nil || err != nil {
		t.Fatalf("tampered GetSession = %+v, %v", got, err)
	}
	if len(w3.Result().Cookies()) != 1 {
		t.Error("tampered cookie should be cleared")
	}
}
