// Package auth runs the OAuth 2.0 authorization-code flow (with PKCE and,
// for OIDC providers, ID token verification) against the providers of a
// provider.Registry, producing a session.Session.
//
// The package does no HTTP routing and no persistence. Callers store the
// FlowState returned by GenerateAuthURL and hand it back to HandleCallback.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/socialauth/oautherr"
	"github.com/mnehpets/socialauth/provider"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultStateMaxAge bounds the age of a state parameter at callback time.
	DefaultStateMaxAge = 5 * time.Minute
	// DefaultStateSkew bounds the timestamp difference between the URL state
	// and the stored state.
	DefaultStateSkew = time.Second
	// DefaultHTTPTimeout applies to token exchange and profile fetch.
	DefaultHTTPTimeout = 10 * time.Second
)

// reservedParams are composed by the flow itself and cannot be overridden
// by provider or caller parameters. OIDC providers also reserve nonce.
var reservedParams = map[string]bool{
	"response_type":         true,
	"client_id":             true,
	"redirect_uri":          true,
	"scope":                 true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// Orchestrator creates per-provider Flows.
type Orchestrator struct {
	registry    *provider.Registry
	configs     ConfigProvider
	client      *http.Client
	logger      *zap.Logger
	now         func() time.Time
	stateMaxAge time.Duration
	stateSkew   time.Duration
	metrics     *Metrics

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient sets the client used for token, user-info and JWKS requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		o.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock sets the time source for state timestamps and token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithStateMaxAge overrides DefaultStateMaxAge.
func WithStateMaxAge(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stateMaxAge = d
	}
}

// WithStateSkew overrides DefaultStateSkew.
func WithStateSkew(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stateSkew = d
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator. configs is consulted on every Flow call, so
// credentials may change at runtime.
func New(registry *provider.Registry, configs ConfigProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		configs:     configs,
		client:      &http.Client{Timeout: DefaultHTTPTimeout},
		logger:      zap.NewNop(),
		now:         time.Now,
		stateMaxAge: DefaultStateMaxAge,
		stateSkew:   DefaultStateSkew,
		verifiers:   make(map[string]*oidc.IDTokenVerifier),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// Flow binds the orchestrator to providerID. It fails with invalid_provider
// for an unknown provider and missing_config when credentials are absent,
// before any network call.
func (o *Orchestrator) Flow(providerID string) (*Flow, error) {
	adapter, ok := o.registry.Adapter(providerID)
	if !ok {
		return nil, oautherr.Newf(oautherr.InvalidProvider, providerID, "Provider %q is not supported", providerID)
	}
	cfg, err := o.configs.Config(providerID)
	if err != nil {
		var oe *oautherr.Error
		if errors.As(err, &oe) {
			return nil, oe
		}
		return nil, oautherr.Wrap(oautherr.MissingConfig, providerID, "Provider configuration could not be loaded", err)
	}
	if err := checkConfig(providerID, cfg); err != nil {
		return nil, err
	}

	desc := adapter.Descriptor()
	scopes := desc.Scopes
	if len(cfg.Scopes) > 0 {
		scopes = cfg.Scopes
	}
	return &Flow{
		o:       o,
		adapter: adapter,
		desc:    desc,
		cfg:     cfg,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   desc.AuthURL,
				TokenURL:  desc.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: o.logger.With(zap.String("provider", providerID)),
	}, nil
}

// verifier returns the cached ID token verifier for the flow's provider and
// client id.
func (o *Orchestrator) verifier(desc provider.Descriptor, clientID string) *oidc.IDTokenVerifier {
	key := desc.ID + "\x00" + clientID
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.verifiers[key]; ok {
		return v
	}
	// The key set outlives any single request, so it gets its own context.
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), o.client), desc.JWKSURL)
	v := oidc.NewVerifier(desc.Issuer, keySet, &oidc.Config{ClientID: clientID, Now: o.now})
	o.verifiers[key] = v
	return v
}

// Flow is an Orchestrator bound to one provider and its RuntimeConfig.
type Flow struct {
	o       *Orchestrator
	adapter provider.Adapter
	desc    provider.Descriptor
	cfg     RuntimeConfig
	conf    *oauth2.Config
	logger  *zap.Logger
}

// Provider returns the bound provider's descriptor.
func (f *Flow) Provider() provider.Descriptor {
	return f.desc
}

// GenerateAuthURL returns the provider authorization URL and the FlowState
// the caller must keep for HandleCallback.
//
// Parameters are applied in this order, later ones replacing earlier ones:
// PKCE challenge, provider parameters (sorted by key), OIDC nonce, caller
// AdditionalParams (sorted by key).
func (f *Flow) GenerateAuthURL(redirectTo string) (string, *FlowState, error) {
	nonce, err := generateState()
	if err != nil {
		return "", nil, oautherr.Wrap(oautherr.ProviderError, f.desc.ID, "failed to generate state", err)
	}
	st := &FlowState{
		Provider:   f.desc.ID,
		RedirectTo: redirectTo,
		Nonce:      nonce,
		Timestamp:  f.o.now().UnixMilli(),
	}
	encoded, err := EncodeState(*st)
	if err != nil {
		return "", nil, oautherr.Wrap(oautherr.ProviderError, f.desc.ID, "failed to encode state", err)
	}

	var opts []oauth2.AuthCodeOption
	if f.desc.PKCESupported {
		verifier, challenge, err := generatePKCE()
		if err != nil {
			return "", nil, oautherr.Wrap(oautherr.ProviderError, f.desc.ID, "failed to generate PKCE", err)
		}
		st.CodeVerifier = verifier
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	opts = f.appendParams(opts, f.desc.AuthParams)
	if f.desc.IsOIDC() {
		opts = append(opts, oidc.Nonce(nonce))
	}
	opts = f.appendParams(opts, f.cfg.AdditionalParams)

	f.o.metrics.authURL(f.desc.ID)
	f.logger.Debug("generated authorization url",
		zap.String("client_id", truncate(f.cfg.ClientID)),
		zap.String("redirect_uri", f.cfg.RedirectURI),
		zap.Bool("pkce", f.desc.PKCESupported),
	)
	return f.conf.AuthCodeURL(encoded, opts...), st, nil
}

func (f *Flow) appendParams(opts []oauth2.AuthCodeOption, params map[string]string) []oauth2.AuthCodeOption {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if reservedParams[k] || (k == "nonce" && f.desc.IsOIDC()) {
			f.logger.Warn("ignoring reserved authorization parameter", zap.String("param", k))
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(k, params[k]))
	}
	return opts
}

// truncate shortens an identifier for logging.
func truncate(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..."
}
