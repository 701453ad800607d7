// Package session persists the result of a completed login.
//
// A Session starts out tied to one provider. Linking a second provider keeps
// the original top-level fields and records the new provider under
// Providers. Expiry is enforced on read; there is no background sweep.
package session

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mnehpets/socialauth/provider"
)

// DefaultKey is the store key (cookie name) holding the session.
const DefaultKey = "auth-session"

// DefaultMaxAge is how long a stored session record lives.
const DefaultMaxAge = 7 * 24 * time.Hour

// ErrNoSession is returned by operations that require an existing session.
var ErrNoSession = errors.New("no active session")

// ProviderData is the per-provider part of a linked session.
type ProviderData struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken,omitempty"`
	ExpiresAt    int64            `json:"expiresAt,omitempty"`
	User         provider.Profile `json:"user"`
}

// Session is the persisted login state. Times are unix milliseconds;
// ExpiresAt is zero when the provider did not report a token lifetime.
type Session struct {
	User         provider.Profile `json:"user"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken,omitempty"`
	ExpiresAt    int64            `json:"expiresAt,omitempty"`
	Provider     string           `json:"provider"`
	CreatedAt    int64            `json:"createdAt"`

	// Providers is nil until a second provider is linked.
	Providers map[string]ProviderData `json:"providers,omitempty"`
}

// Expired reports whether the session's token expiry lies before now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != 0 && s.ExpiresAt < now.UnixMilli()
}

// Primary returns the top-level provider's data.
func (s *Session) Primary() ProviderData {
	return ProviderData{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         s.User,
	}
}

// ProviderIDs lists the primary provider followed by linked providers in
// lexical order, without duplicates.
func (s *Session) ProviderIDs() []string {
	ids := []string{}
	if s.Provider != "" {
		ids = append(ids, s.Provider)
	}
	linked := make([]string, 0, len(s.Providers))
	for id := range s.Providers {
		if id != s.Provider {
			linked = append(linked, id)
		}
	}
	sort.Strings(linked)
	return append(ids, linked...)
}

// Codec serializes sessions for storage.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

var (
	// JSONCodec is the default codec.
	JSONCodec Codec = jsonCodec{}
	// CBORCodec produces smaller records, which matters when the session
	// lives in a cookie.
	CBORCodec Codec = cborCodec{}
)
