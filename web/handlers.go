package web

import (
	"errors"
	"net/http"

	"github.com/mnehpets/socialauth/auth"
	"github.com/mnehpets/socialauth/logging"
	"github.com/mnehpets/socialauth/oautherr"
	"github.com/mnehpets/socialauth/provider"
	"go.uber.org/zap"
)

type loginParams struct {
	Provider   string `path:"provider"`
	RedirectTo string `query:"redirect_to"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, p loginParams) (Renderer, error) {
	origin := h.originOf(r)
	log := logging.From(r.Context(), h.logger).With(zap.String("provider", p.Provider))

	flow, err := h.orch.Flow(p.Provider)
	if err != nil {
		return errorRedirect(log, origin, err), nil
	}
	authURL, st, err := flow.GenerateAuthURL(p.RedirectTo)
	if err != nil {
		return errorRedirect(log, origin, err), nil
	}
	stored, err := auth.MarshalStored(st)
	if err != nil {
		return errorRedirect(log, origin, oautherr.Wrap(oautherr.ProviderError, p.Provider, "Could not store login state", err)), nil
	}
	jar := h.cookies.Bind(w, r)
	if err := jar.Set(r.Context(), StateCookiePrefix+p.Provider, stored, h.stateMaxAge); err != nil {
		return errorRedirect(log, origin, oautherr.Wrap(oautherr.ProviderError, p.Provider, "Could not store login state", err)), nil
	}
	return &RedirectRenderer{URL: authURL}, nil
}

type callbackParams struct {
	Provider         string `path:"provider"`
	Code             string `query:"code"`
	State            string `query:"state"`
	Error            string `query:"error"`
	ErrorDescription string `query:"error_description"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, p callbackParams) (Renderer, error) {
	ctx := r.Context()
	origin := h.originOf(r)
	log := logging.From(ctx, h.logger).With(zap.String("provider", p.Provider))
	jar := h.cookies.Bind(w, r)
	stateKey := StateCookiePrefix + p.Provider

	if p.Error != "" {
		if h.orch.Registry().IsValid(p.Provider) {
			_ = jar.Delete(ctx, stateKey)
		}
		return errorRedirect(log, origin, auth.CallbackError(p.Provider, p.Error, p.ErrorDescription)), nil
	}
	if !h.orch.Registry().IsValid(p.Provider) {
		return errorRedirect(log, origin, oautherr.Newf(oautherr.InvalidProvider, p.Provider, "Provider %q is not supported", p.Provider)), nil
	}
	defer jar.Delete(ctx, stateKey)

	if p.Code == "" || p.State == "" {
		return errorRedirect(log, origin, oautherr.New(oautherr.InvalidState, p.Provider, "Missing required parameters")), nil
	}
	raw, err := jar.Get(ctx, stateKey)
	if err != nil {
		return errorRedirect(log, origin, oautherr.Wrap(oautherr.InvalidState, p.Provider, "No stored state found", err)), nil
	}
	stored, err := auth.UnmarshalStored(raw)
	if err != nil {
		return errorRedirect(log, origin, oautherr.Wrap(oautherr.InvalidState, p.Provider, "Invalid stored state", err)), nil
	}

	flow, err := h.orch.Flow(p.Provider)
	if err != nil {
		return errorRedirect(log, origin, err), nil
	}
	res := flow.HandleCallback(ctx, auth.Callback{Code: p.Code, State: p.State}, stored)
	if !res.Success() {
		return errorRedirect(log, origin, res.Error), nil
	}

	sessions := h.sessions(r, jar)
	existing, err := sessions.GetSession(ctx)
	if err != nil {
		return errorRedirect(log, origin, oautherr.Wrap(oautherr.ProviderError, p.Provider, "Could not read session", err)), nil
	}
	// Signing in again with the session's own provider replaces it.
	link := existing != nil && existing.Provider != res.Session.Provider
	if link {
		err = sessions.AddProviderToSession(ctx, res.Session)
	} else {
		// A new login never reuses a session id the browser already had.
		if err = sessions.DeleteSession(ctx); err == nil {
			err = sessions.CreateSession(ctx, res.Session)
		}
	}
	if err != nil {
		return errorRedirect(log, origin, oautherr.Wrap(oautherr.ProviderError, p.Provider, "Could not store session", err)), nil
	}
	log.Info("session stored", zap.Bool("linked", link), zap.String("user_id", res.Session.User.ID))
	return &RedirectRenderer{URL: SuccessRedirectURL(origin, res.State.RedirectTo)}, nil
}

// errorRedirect sends the browser to the error page. The details parameter
// carries the short user-facing message, never the upstream cause.
func errorRedirect(log *zap.Logger, origin string, err error) Renderer {
	oe := oautherr.As(err, "")
	log.Info("login failed", zap.String("code", string(oe.Code)), zap.Error(err))
	return &RedirectRenderer{URL: ErrorRedirectURL(origin, string(oe.Code), oautherr.UserMessage(oe.Code, oe.Message))}
}

type logoutParams struct {
	Body struct {
		Provider string `json:"provider"`
	} `body:"json"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, p logoutParams) (Renderer, error) {
	sessions := h.sessions(r, h.cookies.Bind(w, r))
	var err error
	if p.Body.Provider != "" {
		err = sessions.RemoveProviderFromSession(r.Context(), p.Body.Provider)
	} else {
		err = sessions.DeleteSession(r.Context())
	}
	if err != nil {
		return nil, err
	}
	return &JSONRenderer{Value: map[string]any{"success": true}}, nil
}

type logoutRedirectParams struct {
	RedirectTo string `query:"redirect_to"`
}

func (h *Handler) logoutRedirect(w http.ResponseWriter, r *http.Request, p logoutRedirectParams) (Renderer, error) {
	sessions := h.sessions(r, h.cookies.Bind(w, r))
	if err := sessions.DeleteSession(r.Context()); err != nil {
		logging.From(r.Context(), h.logger).Warn("logout failed", zap.Error(err))
	}
	origin := h.originOf(r)
	return &RedirectRenderer{URL: origin + ValidateNextURLIsLocal(p.RedirectTo)}, nil
}

// sessionView is the client-visible part of a session. Tokens stay on the
// server.
type sessionView struct {
	User      provider.Profile `json:"user"`
	Provider  string           `json:"provider"`
	Providers []string         `json:"providers"`
	ExpiresAt int64            `json:"expiresAt,omitempty"`
	CreatedAt int64            `json:"createdAt"`
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request, _ struct{}) (Renderer, error) {
	s, err := h.sessions(r, h.cookies.Bind(w, r)).GetSession(r.Context())
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, oautherr.New(oautherr.SessionExpired, "", "No active session")
	}
	user := s.User
	user.Raw = nil
	return &JSONRenderer{Value: sessionView{
		User:      user,
		Provider:  s.Provider,
		Providers: s.ProviderIDs(),
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}}, nil
}

type providerView struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	DisplayName   string   `json:"displayName"`
	Color         string   `json:"color"`
	Icon          string   `json:"icon"`
	Scopes        []string `json:"scopes"`
	PKCESupported bool     `json:"pkceSupported"`
	Configured    bool     `json:"configured"`
	LoginURL      string   `json:"loginUrl"`
}

func (h *Handler) providers(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
	var out []providerView
	for _, d := range h.orch.Registry().All() {
		_, err := h.orch.Flow(d.ID)
		if err != nil && !errors.Is(err, &oautherr.Error{Code: oautherr.MissingConfig}) {
			return nil, err
		}
		out = append(out, providerView{
			ID:            d.ID,
			Name:          d.Name,
			DisplayName:   d.DisplayName,
			Color:         d.Color,
			Icon:          d.Icon,
			Scopes:        d.Scopes,
			PKCESupported: d.PKCESupported,
			Configured:    err == nil,
			LoginURL:      "/api/auth/" + d.ID + "/login",
		})
	}
	return &JSONRenderer{Value: map[string]any{"providers": out}}, nil
}
