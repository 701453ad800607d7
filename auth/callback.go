package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/socialauth/oautherr"
	"github.com/mnehpets/socialauth/session"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// maxProfileBytes bounds the user-info response we are willing to read.
const maxProfileBytes = 1 << 20

// Callback holds the query parameters the provider sent to the redirect URI.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// AuthResult is the outcome of HandleCallback. Exactly one of Session and
// Error is set.
type AuthResult struct {
	ProviderID string
	// Session is the new session on success.
	Session *session.Session
	// State is the validated flow state; set whenever validation got that
	// far, so RedirectTo is available on later failures too.
	State *FlowState
	// IDToken is the verified ID token, for OIDC providers that returned one.
	IDToken *oidc.IDToken
	Error   *oautherr.Error
}

// Success reports whether the callback produced a session.
func (r *AuthResult) Success() bool {
	return r.Error == nil && r.Session != nil
}

// HandleCallback validates the callback, exchanges the code, fetches and
// normalizes the profile and returns the resulting session.
//
// stored is the FlowState kept by the caller since GenerateAuthURL. It is
// required for PKCE providers, whose verifier never appears in the URL
// state. HandleCallback does not return errors or panic; every failure is
// reported in AuthResult.Error.
func (f *Flow) HandleCallback(ctx context.Context, cb Callback, stored *FlowState) (res *AuthResult) {
	id := f.desc.ID
	res = &AuthResult{ProviderID: id}
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("panic in callback", zap.Any("panic", p), zap.Stack("stack"))
			res.Session = nil
			res.Error = oautherr.Wrap(oautherr.ProviderError, id, "Unknown error occurred", fmt.Errorf("panic: %v", p))
		}
		if res.Error != nil {
			f.logger.Info("callback failed", zap.String("code", string(res.Error.Code)), zap.Error(res.Error))
			f.o.metrics.callback(id, string(res.Error.Code))
		} else {
			f.o.metrics.callback(id, "success")
		}
	}()

	if cb.Error != "" {
		res.Error = CallbackError(id, cb.Error, cb.ErrorDescription)
		return res
	}

	st, oerr := f.validateState(cb.State, stored)
	if oerr != nil {
		res.Error = oerr
		return res
	}
	res.State = st

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.o.client)

	token, oerr := f.exchange(ctx, cb.Code, st)
	if oerr != nil {
		res.Error = oerr
		return res
	}

	if f.desc.IsOIDC() {
		if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
			idToken, oerr := f.verifyIDToken(ctx, raw, st.Nonce)
			if oerr != nil {
				res.Error = oerr
				return res
			}
			res.IDToken = idToken
		}
	}

	raw, oerr := f.fetchProfile(ctx, token.AccessToken)
	if oerr != nil {
		res.Error = oerr
		return res
	}

	profile, err := f.adapter.Normalize(raw)
	if err != nil {
		res.Error = oautherr.As(err, id)
		return res
	}
	profile.Provider = id
	profile.ProviderAccountID = profile.ID
	profile.Raw = compactJSON(raw)
	if profile.Email == "" {
		if email, ok := GetVerifiedEmail(res.IDToken); ok {
			profile.Email = email
		}
	}

	now := f.o.now()
	s := &session.Session{
		User:         profile,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Provider:     id,
		CreatedAt:    now.UnixMilli(),
	}
	if secs := expiresIn(token); secs > 0 {
		s.ExpiresAt = now.UnixMilli() + secs*1000
	}
	res.Session = s
	f.logger.Info("login succeeded", zap.String("user_id", profile.ID))
	return res
}

// CallbackError classifies an error returned by the provider in the
// callback's error parameter.
func CallbackError(id, code, description string) *oautherr.Error {
	msg := code
	if description != "" {
		msg = code + ": " + description
	}
	if code == "invalid_scope" {
		return oautherr.New(oautherr.InvalidScope, id, msg)
	}
	return oautherr.New(oautherr.AuthorizationFailed, id, msg)
}

// validateState decodes the URL state and checks it against stored. The
// returned state is the one to continue with: stored when given, since only
// it carries the PKCE verifier.
func (f *Flow) validateState(param string, stored *FlowState) (*FlowState, *oautherr.Error) {
	id := f.desc.ID
	invalid := func(reason string) *oautherr.Error {
		return oautherr.Wrap(oautherr.InvalidState, id, "Invalid or expired state parameter", errors.New(reason))
	}

	st, err := DecodeState(param)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.InvalidState, id, "Invalid or expired state parameter", err)
	}
	if st.Provider == "" || st.Timestamp == 0 || st.Nonce == "" {
		return nil, invalid("invalid state structure")
	}
	age := f.o.now().UnixMilli() - st.Timestamp
	if age > f.o.stateMaxAge.Milliseconds() {
		return nil, invalid("state expired")
	}
	if st.Provider != id {
		return nil, invalid("provider mismatch")
	}

	if stored == nil {
		if f.desc.PKCESupported {
			return nil, invalid("no stored state for PKCE flow")
		}
		return st, nil
	}
	skew := st.Timestamp - stored.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if stored.Provider != st.Provider ||
		subtle.ConstantTimeCompare([]byte(stored.Nonce), []byte(st.Nonce)) != 1 ||
		skew > f.o.stateSkew.Milliseconds() {
		return nil, oautherr.New(oautherr.InvalidState, id, "State mismatch between URL and stored state")
	}
	if f.desc.PKCESupported && stored.CodeVerifier == "" {
		return nil, invalid("stored state has no code verifier")
	}
	return stored, nil
}

func (f *Flow) exchange(ctx context.Context, code string, st *FlowState) (*oauth2.Token, *oautherr.Error) {
	id := f.desc.ID
	var opts []oauth2.AuthCodeOption
	if f.desc.PKCESupported && st.CodeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", st.CodeVerifier))
	}

	start := time.Now()
	token, err := f.conf.Exchange(ctx, code, opts...)
	f.o.metrics.exchanged(id, time.Since(start))
	if err == nil {
		return token, nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := re.ErrorCode
		switch {
		case msg != "" && re.ErrorDescription != "":
			msg += ": " + re.ErrorDescription
		case msg == "":
			msg = errorMessage(re.Body, "Token exchange failed")
		}
		return nil, oautherr.Wrap(oautherr.TokenExchangeFailed, id, msg, err)
	}
	if isNetworkError(err) {
		return nil, oautherr.Wrap(oautherr.NetworkError, id, "Network error during token exchange", err)
	}
	return nil, oautherr.Wrap(oautherr.TokenExchangeFailed, id, "Token exchange failed", err)
}

func (f *Flow) verifyIDToken(ctx context.Context, raw, nonce string) (*oidc.IDToken, *oautherr.Error) {
	id := f.desc.ID
	v := f.o.verifier(f.desc, f.cfg.ClientID)
	idToken, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.InvalidToken, id, "ID token verification failed", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, oautherr.New(oautherr.InvalidToken, id, "ID token nonce mismatch")
	}
	return idToken, nil
}

func (f *Flow) fetchProfile(ctx context.Context, accessToken string) ([]byte, *oautherr.Error) {
	id := f.desc.ID
	req, err := f.adapter.UserInfoRequest(ctx, accessToken)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.ProfileFetchFailed, id, "Profile fetch failed", err)
	}
	resp, err := f.o.client.Do(req)
	if err != nil {
		return nil, oautherr.Wrap(oautherr.NetworkError, id, "Network error during profile fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, oautherr.Wrap(oautherr.NetworkError, id, "Network error during profile fetch", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, oautherr.Wrap(oautherr.ProfileFetchFailed, id,
			errorMessage(body, "Profile fetch failed"),
			fmt.Errorf("user info status %d: %s", resp.StatusCode, body))
	}
	return body, nil
}

// errorMessage extracts a provider error message from a JSON body.
func errorMessage(body []byte, fallback string) string {
	if !gjson.ValidBytes(body) {
		return fallback
	}
	for _, path := range []string{"error_description", "error.message", "error", "message"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return fallback
}

func isNetworkError(err error) bool {
	var ue *url.Error
	var ne net.Error
	return errors.As(err, &ue) || errors.As(err, &ne) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// expiresIn reads expires_in from the raw token response. The value is
// numeric for JSON responses and parsed from the form for urlencoded ones.
func expiresIn(t *oauth2.Token) int64 {
	switch v := t.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func compactJSON(b []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return json.RawMessage(append([]byte(nil), b...))
	}
	return buf.Bytes()
}
