// Package config resolves server settings and provider credentials from the
// environment, an optional .env file and an optional YAML overrides file.
//
// Settings use the SOCIALAUTH_ prefix. Provider credentials use
// {PROVIDER}_CLIENT_ID and {PROVIDER}_CLIENT_SECRET, except LINE, which
// keeps its channel naming (LINE_CHANNEL_ID, LINE_CHANNEL_SECRET).
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mnehpets/socialauth/auth"
	"github.com/mnehpets/socialauth/oautherr"
	"github.com/mnehpets/socialauth/provider"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every server setting.
const EnvPrefix = "SOCIALAUTH_"

// ErrNoCookieKeys is returned by Settings.CookieKeyring when no keys are set.
var ErrNoCookieKeys = errors.New("config: no cookie keys configured")

// Settings are the server-wide options.
type Settings struct {
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Addr     string `env:"ADDR" envDefault:":8080"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CookieKeys is a comma separated list of id:base64key pairs.
	CookieKeyID string `env:"COOKIE_KEY_ID" envDefault:"k1"`
	CookieKeys  string `env:"COOKIE_KEYS"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
	SessionCodec  string        `env:"SESSION_CODEC" envDefault:"json"`
	StateMaxAge   time.Duration `env:"STATE_MAX_AGE" envDefault:"5m"`
	StateSkew     time.Duration `env:"STATE_SKEW" envDefault:"1s"`

	// Store is cookie, memory or redis.
	Store         string `env:"STORE" envDefault:"cookie"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	ProvidersFile string `env:"PROVIDERS_FILE"`
}

// Production reports whether Env names a production deployment.
func (s Settings) Production() bool {
	switch strings.ToLower(s.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// CookieKeyring decodes CookieKeys. The active CookieKeyID must be present.
func (s Settings) CookieKeyring() (map[string][]byte, error) {
	if strings.TrimSpace(s.CookieKeys) == "" {
		return nil, ErrNoCookieKeys
	}
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(s.CookieKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, encoded, ok := strings.Cut(pair, ":")
		if !ok || id == "" || encoded == "" {
			return nil, fmt.Errorf("config: malformed cookie key %q", truncate(pair))
		}
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("config: cookie key %q: %w", id, err)
		}
		keys[id] = key
	}
	if _, ok := keys[s.CookieKeyID]; !ok {
		return nil, fmt.Errorf("config: active cookie key %q not in %sCOOKIE_KEYS", s.CookieKeyID, EnvPrefix)
	}
	return keys, nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func truncate(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[:4] + "..."
}

// Override adjusts one provider's flow.
type Override struct {
	// Scopes replace the provider's default scopes.
	Scopes []string `yaml:"scopes"`
	// Params are added to the authorization URL.
	Params map[string]string `yaml:"params"`
}

type overridesFile struct {
	Providers map[string]Override `yaml:"providers"`
}

// Options control Load.
type Options struct {
	// Registry lists the known providers. Defaults to provider.Default().
	Registry *provider.Registry
	// DotEnvFiles are read in order; a missing file is skipped. Values
	// never replace variables that are already set.
	DotEnvFiles []string
	// Environment supplies the variables when non-nil, in place of the
	// process environment read by Load.
	Environment map[string]string
}

// Loader holds the resolved settings and implements auth.ConfigProvider.
type Loader struct {
	settings  Settings
	environ   map[string]string
	overrides map[string]Override
	registry  *provider.Registry
}

var _ auth.ConfigProvider = (*Loader)(nil)

// Load reads settings and the overrides file.
func Load(opts Options) (*Loader, error) {
	environ := opts.Environment
	if environ == nil {
		environ = processEnv()
	} else {
		environ = cloneMap(environ)
	}
	for _, file := range opts.DotEnvFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		for k, v := range values {
			if _, ok := environ[k]; !ok {
				environ[k] = v
			}
		}
	}

	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")

	l := &Loader{
		settings: s,
		environ:  environ,
		registry: opts.Registry,
	}
	if l.registry == nil {
		l.registry = provider.Default()
	}
	if s.ProvidersFile != "" {
		overrides, err := readOverrides(s.ProvidersFile)
		if err != nil {
			return nil, err
		}
		for id := range overrides {
			if !l.registry.IsValid(id) {
				return nil, fmt.Errorf("config: %s: unknown provider %q", s.ProvidersFile, id)
			}
		}
		l.overrides = overrides
	}
	return l, nil
}

func readOverrides(path string) (map[string]Override, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var of overridesFile
	if err := dec.Decode(&of); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return of.Providers, nil
}

// Settings returns the server settings.
func (l *Loader) Settings() Settings {
	return l.settings
}

// Registry returns the registry the loader validates provider ids against.
func (l *Loader) Registry() *provider.Registry {
	return l.registry
}

// RedirectURI is the callback URL registered with the provider.
func (l *Loader) RedirectURI(providerID string) string {
	return l.settings.BaseURL + "/api/auth/" + providerID + "/callback"
}

// Config implements auth.ConfigProvider.
func (l *Loader) Config(providerID string) (auth.RuntimeConfig, error) {
	if !l.registry.IsValid(providerID) {
		return auth.RuntimeConfig{}, oautherr.Newf(oautherr.InvalidProvider, providerID, "Provider %q is not supported", providerID)
	}
	c, err := l.credentials(providerID)
	if err != nil {
		return auth.RuntimeConfig{}, oautherr.Wrap(oautherr.MissingConfig, providerID, "Provider configuration could not be loaded", err)
	}
	if missing := c.missing(EnvVars(providerID)); len(missing) > 0 {
		return auth.RuntimeConfig{}, oautherr.Newf(oautherr.MissingConfig, providerID,
			"Missing environment variables for %s: %s", providerID, strings.Join(missing, ", "))
	}

	cfg := auth.RuntimeConfig{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURI:  l.RedirectURI(providerID),
	}
	if o, ok := l.overrides[providerID]; ok {
		cfg.Scopes = append([]string(nil), o.Scopes...)
		if len(o.Params) > 0 {
			cfg.AdditionalParams = cloneMap(o.Params)
		}
	}
	return cfg, nil
}

// PublicClientID returns the client id exposed to browser-initiated flows.
func (l *Loader) PublicClientID(providerID string) string {
	c, err := l.credentials(providerID)
	if err != nil {
		return ""
	}
	return c.PublicClientID
}

// IsConfigured reports whether providerID has a client id and secret.
func (l *Loader) IsConfigured(providerID string) bool {
	return l.Status(providerID).Configured
}

// Validate lists the RuntimeConfig fields that are empty.
func Validate(cfg auth.RuntimeConfig) []string {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "ClientID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "ClientSecret")
	}
	if cfg.RedirectURI == "" {
		missing = append(missing, "RedirectURI")
	}
	return missing
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func processEnv() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
