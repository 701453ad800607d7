// Package provider holds the static description of each supported identity
// provider and the adapters that turn a provider's user-info response into
// the canonical Profile.
package provider

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"slices"
)

const (
	ResponseTypeCode           = "code"
	GrantTypeAuthorizationCode = "authorization_code"
)

// Descriptor is the immutable metadata of an identity provider.
//
// AuthURL, TokenURL and UserInfoURL are part of the contract with the
// provider and must match its published endpoints.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	// Color and Icon are presentation hints.
	Color string `json:"color"`
	Icon  string `json:"icon"`

	AuthURL     string   `json:"authUrl"`
	TokenURL    string   `json:"tokenUrl"`
	UserInfoURL string   `json:"userInfoUrl"`
	Scopes      []string `json:"scopes"`

	ResponseType  string `json:"responseType"`
	GrantType     string `json:"grantType"`
	PKCESupported bool   `json:"pkceSupported"`
	StateRequired bool   `json:"stateRequired"`

	// AuthParams are static query parameters added to the authorization URL.
	AuthParams map[string]string `json:"authParams,omitempty"`
	// UserInfoParams are static query parameters added when fetching the profile.
	UserInfoParams map[string]string `json:"userInfoParams,omitempty"`

	// Issuer and JWKSURL are set for OpenID Connect providers. When set, an
	// id_token returned by the token endpoint is verified against them.
	Issuer  string `json:"issuer,omitempty"`
	JWKSURL string `json:"jwksUrl,omitempty"`
}

// IsOIDC reports whether the provider issues verifiable ID tokens.
func (d Descriptor) IsOIDC() bool {
	return d.Issuer != "" && d.JWKSURL != ""
}

func (d Descriptor) clone() Descriptor {
	d.Scopes = slices.Clone(d.Scopes)
	d.AuthParams = maps.Clone(d.AuthParams)
	d.UserInfoParams = maps.Clone(d.UserInfoParams)
	return d
}

// Profile is the canonical, provider-independent user identity.
//
// Adapters fill the identity fields; Provider, ProviderAccountID and Raw are
// set by the caller that knows the context. ProviderAccountID always equals ID.
type Profile struct {
	ID                string          `json:"id"`
	Email             string          `json:"email,omitempty"`
	Name              string          `json:"name"`
	DisplayName       string          `json:"displayName"`
	FirstName         string          `json:"firstName,omitempty"`
	LastName          string          `json:"lastName,omitempty"`
	Avatar            string          `json:"avatar,omitempty"`
	Provider          string          `json:"provider"`
	ProviderAccountID string          `json:"providerAccountId"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Adapter encapsulates everything that differs between providers once the
// token exchange is done: how to ask for the profile and how to read it.
type Adapter interface {
	// Descriptor returns a copy of the provider metadata.
	Descriptor() Descriptor
	// UserInfoRequest builds the authenticated profile request.
	UserInfoRequest(ctx context.Context, accessToken string) (*http.Request, error)
	// Normalize maps a raw user-info response body to a partial Profile.
	Normalize(raw []byte) (Profile, error)
}

// Option adjusts a built-in Descriptor, typically to point it at a test
// server or to change its default scopes.
type Option func(*Descriptor)

// WithEndpoints replaces the authorization, token and user-info URLs.
// Empty arguments leave the corresponding URL unchanged.
func WithEndpoints(authURL, tokenURL, userInfoURL string) Option {
	return func(d *Descriptor) {
		if authURL != "" {
			d.AuthURL = authURL
		}
		if tokenURL != "" {
			d.TokenURL = tokenURL
		}
		if userInfoURL != "" {
			d.UserInfoURL = userInfoURL
		}
	}
}

// WithIssuer sets the OpenID Connect issuer and key set location.
// Passing empty strings disables ID token verification for the provider.
func WithIssuer(issuer, jwksURL string) Option {
	return func(d *Descriptor) {
		d.Issuer = issuer
		d.JWKSURL = jwksURL
	}
}

// WithScopes replaces the default scopes.
func WithScopes(scopes ...string) Option {
	return func(d *Descriptor) {
		d.Scopes = slices.Clone(scopes)
	}
}

// WithPKCE overrides whether PKCE is used.
func WithPKCE(enable bool) Option {
	return func(d *Descriptor) {
		d.PKCESupported = enable
	}
}

// base implements the request side of Adapter for the common case: a GET on
// the user-info URL with a bearer token and any static query parameters.
type base struct {
	desc Descriptor
}

func newBase(d Descriptor, opts []Option) base {
	for _, opt := range opts {
		opt(&d)
	}
	return base{desc: d.clone()}
}

func (b base) Descriptor() Descriptor {
	return b.desc.clone()
}

func (b base) UserInfoRequest(ctx context.Context, accessToken string) (*http.Request, error) {
	u, err := url.Parse(b.desc.UserInfoURL)
	if err != nil {
		return nil, err
	}
	if len(b.desc.UserInfoParams) > 0 {
		q := u.Query()
		for _, k := range slices.Sorted(maps.Keys(b.desc.UserInfoParams)) {
			q.Set(k, b.desc.UserInfoParams[k])
		}
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
