package provider

import (
	"strings"

	"github.com/mnehpets/socialauth/oautherr"
	"github.com/tidwall/gjson"
)

// Provider identifiers, in registry order.
const (
	LINE     = "line"
	Google   = "google"
	Facebook = "facebook"
	GitHub   = "github"
	Discord  = "discord"
	Twitter  = "twitter"
)

// parseObject validates raw as a JSON object and returns it parsed.
func parseObject(id string, raw []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, oautherr.New(oautherr.ProfileFetchFailed, id, "profile response is not valid JSON")
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return gjson.Result{}, oautherr.New(oautherr.ProfileFetchFailed, id, "profile response is not a JSON object")
	}
	return r, nil
}

func requireID(id string, p Profile) (Profile, error) {
	if p.ID == "" {
		return Profile{}, oautherr.New(oautherr.ProfileFetchFailed, id, "profile response has no user id")
	}
	return p, nil
}

// firstOf returns the first non-empty string among the given paths.
func firstOf(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

type lineAdapter struct{ base }

// NewLINE returns the LINE Login adapter.
func NewLINE(opts ...Option) Adapter {
	return &lineAdapter{newBase(Descriptor{
		ID:            LINE,
		Name:          LINE,
		DisplayName:   "LINE",
		Color:         "#06C755",
		Icon:          "line",
		AuthURL:       "https://access.line.me/oauth2/v2.1/authorize",
		TokenURL:      "https://api.line.me/oauth2/v2.1/token",
		UserInfoURL:   "https://api.line.me/v2/profile",
		Scopes:        []string{"profile", "openid"},
		ResponseType:  ResponseTypeCode,
		GrantType:     GrantTypeAuthorizationCode,
		PKCESupported: true,
		StateRequired: true,
		Issuer:        "https://access.line.me",
		JWKSURL:       "https://api.line.me/oauth2/v2.1/certs",
	}, opts)}
}

func (a *lineAdapter) Normalize(raw []byte) (Profile, error) {
	r, err := parseObject(LINE, raw)
	if err != nil {
		return Profile{}, err
	}
	name := r.Get("displayName").String()
	return requireID(LINE, Profile{
		ID:          r.Get("userId").String(),
		Email:       r.Get("email").String(), // only with the email scope
		Name:        name,
		DisplayName: name,
		Avatar:      r.Get("pictureUrl").String(),
	})
}

type googleAdapter struct{ base }

// NewGoogle returns the Google adapter.
func NewGoogle(opts ...Option) Adapter {
	return &googleAdapter{newBase(Descriptor{
		ID:            Google,
		Name:          Google,
		DisplayName:   "Google",
		Color:         "#4285F4",
		Icon:          "google",
		AuthURL:       "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:      "https://oauth2.googleapis.com/token",
		UserInfoURL:   "https://www.googleapis.com/oauth2/v2/userinfo",
		Scopes:        []string{"openid", "email", "profile"},
		ResponseType:  ResponseTypeCode,
		GrantType:     GrantTypeAuthorizationCode,
		PKCESupported: true,
		StateRequired: true,
		AuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		Issuer:  "https://accounts.google.com",
		JWKSURL: "https://www.googleapis.com/oauth2/v3/certs",
	}, opts)}
}

func (a *googleAdapter) Normalize(raw []byte) (Profile, error) {
	r, err := parseObject(Google, raw)
	if err != nil {
		return Profile{}, err
	}
	name := r.Get("name").String()
	return requireID(Google, Profile{
		ID:          r.Get("id").String(),
		Email:       r.Get("email").String(),
		Name:        name,
		DisplayName: name,
		FirstName:   r.Get("given_name").String(),
		LastName:    r.Get("family_name").String(),
		Avatar:      r.Get("picture").String(),
	})
}

type facebookAdapter struct{ base }

// NewFacebook returns the Facebook adapter. The Graph API only returns the
// fields it is asked for, so the profile request carries a fields list.
func NewFacebook(opts ...Option) Adapter {
	return &facebookAdapter{newBase(Descriptor{
		ID:            Facebook,
		Name:          Facebook,
		DisplayName:   "Facebook",
		Color:         "#1877F2",
		Icon:          "facebook",
		AuthURL:       "https://www.facebook.com/v18.0/dialog/oauth",
		TokenURL:      "https://graph.facebook.com/v18.0/oauth/access_token",
		UserInfoURL:   "https://graph.facebook.com/v18.0/me",
		Scopes:        []string{"email", "public_profile"},
		ResponseType:  ResponseTypeCode,
		GrantType:     GrantTypeAuthorizationCode,
		PKCESupported: true,
		StateRequired: true,
		UserInfoParams: map[string]string{
			"fields": "id,name,email,picture,first_name,last_name",
		},
	}, opts)}
}

func (a *facebookAdapter) Normalize(raw []byte) (Profile, error) {
	r, err := parseObject(Facebook, raw)
	if err != nil {
		return Profile{}, err
	}
	name := r.Get("name").String()
	return requireID(Facebook, Profile{
		ID:          r.Get("id").String(),
		Email:       r.Get("email").String(),
		Name:        name,
		DisplayName: name,
		FirstName:   r.Get("first_name").String(),
		LastName:    r.Get("last_name").String(),
		Avatar:      r.Get("picture.data.url").String(),
	})
}

type githubAdapter struct{ base }

// NewGitHub returns the GitHub adapter. GitHub does not support PKCE and
// does not issue ID tokens.
func NewGitHub(opts ...Option) Adapter {
	return &githubAdapter{newBase(Descriptor{
		ID:            GitHub,
		Name:          GitHub,
		DisplayName:   "GitHub",
		Color:         "#333333",
		Icon:          "github",
		AuthURL:       "https://github.com/login/oauth/authorize",
		TokenURL:      "https://github.com/login/oauth/access_token",
		UserInfoURL:   "https://api.github.com/user",
		Scopes:        []string{"user:email"},
		ResponseType:  ResponseTypeCode,
		GrantType:     GrantTypeAuthorizationCode,
		PKCESupported: false,
		StateRequired: true,
	}, opts)}
}

func (a *githubAdapter) Normalize(raw []byte) (Profile, error) {
	r, err := parseObject(GitHub, raw)
	if err != nil {
		return Profile{}, err
	}
	login := r.Get("login").String()
	fullName := firstOf(r, "name", "login")
	// GitHub has a single free-form name; split at the first space.
	first, last, _ := strings.Cut(fullName, " ")
	return requireID(GitHub, Profile{
		ID:          r.Get("id").String(),
		Email:       r.Get("email").String(),
		Name:        fullName,
		DisplayName: login,
		FirstName:   first,
		LastName:    last,
		Avatar:      r.Get("avatar_url").String(),
	})
}

type discordAdapter struct{ base }

// NewDiscord returns the Discord adapter.
func NewDiscord(opts ...Option) Adapter {
	return &discordAdapter{newBase(Descriptor{
		ID:            Discord,
		Name:          Discord,
		DisplayName:   "Discord",
		Color:         "#5865F2",
		Icon:          "discord",
		AuthURL:       "https://discord.com/api/oauth2/authorize",
		TokenURL:      "https://discord.com/api/oauth2/token",
		UserInfoURL:   "https://discord.com/api/users/@me",
		Scopes:        []string{"identify", "email"},
		ResponseType:  ResponseTypeCode,
		GrantType:     GrantTypeAuthorizationCode,
		PKCESupported: true,
		StateRequired: true,
	}, opts)}
}

// discordAvatarBase is the CDN location of user avatars, keyed by user id and
// avatar hash.
const discordAvatarBase = "https://cdn.discordapp.com/avatars/"

func (a *discordAdapter) Normalize(raw []byte) (Profile, error) {
	r, err := parseObject(Discord, raw)
	if err != nil {
		return Profile{}, err
	}
	id := r.Get("id").String()
	var avatar string
	if hash := r.Get("avatar").String(); hash != "" && id != "" {
		avatar = discordAvatarBase + id + "/" + hash + ".png"
	}
	return requireID(Discord, Profile{
		ID:          id,
		Email:       r.Get("email").String(),
		Name:        firstOf(r, "global_name", "username"),
		DisplayName: r.Get("username").String(),
		Avatar:      avatar,
	})
}

type twitterAdapter struct{ base }

// NewTwitter returns the Twitter/X adapter. The v2 users/me endpoint wraps
// the user in a "data" envelope and only returns requested user fields.
func NewTwitter(opts ...Option) Adapter {
	return &twitterAdapter{newBase(Descriptor{
		ID:            Twitter,
		Name:          Twitter,
		DisplayName:   "Twitter",
		Color:         "#1DA1F2",
		Icon:          "twitter",
		AuthURL:       "https://twitter.com/i/oauth2/authorize",
		TokenURL:      "https://api.twitter.com/2/oauth2/token",
		UserInfoURL:   "https://api.twitter.com/2/users/me",
		Scopes:        []string{"tweet.read", "users.read"},
		ResponseType:  ResponseTypeCode,
		GrantType:     GrantTypeAuthorizationCode,
		PKCESupported: true,
		StateRequired: true,
		UserInfoParams: map[string]string{
			"user.fields": "id,name,username,profile_image_url",
		},
	}, opts)}
}

func (a *twitterAdapter) Normalize(raw []byte) (Profile, error) {
	r, err := parseObject(Twitter, raw)
	if err != nil {
		return Profile{}, err
	}
	if data := r.Get("data"); data.IsObject() {
		r = data
	}
	return requireID(Twitter, Profile{
		ID:          r.Get("id").String(),
		Name:        r.Get("name").String(),
		DisplayName: r.Get("username").String(),
		Avatar:      r.Get("profile_image_url").String(),
	})
}
