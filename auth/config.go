package auth

import (
	"github.com/mnehpets/socialauth/oautherr"
)

// RuntimeConfig is the client registration used for one flow.
type RuntimeConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Scopes, when set, replace the provider's default scopes.
	Scopes []string
	// AdditionalParams are added to the authorization URL after the
	// provider's own parameters and win on conflict.
	AdditionalParams map[string]string
}

// ConfigProvider resolves the RuntimeConfig for a provider. It returns a
// missing_config error when the provider has no usable credentials.
type ConfigProvider interface {
	Config(providerID string) (RuntimeConfig, error)
}

// StaticConfig is a fixed ConfigProvider, mostly useful in tests.
type StaticConfig map[string]RuntimeConfig

func (s StaticConfig) Config(providerID string) (RuntimeConfig, error) {
	cfg, ok := s[providerID]
	if !ok {
		return RuntimeConfig{}, oautherr.Newf(oautherr.MissingConfig, providerID, "no configuration for provider %q", providerID)
	}
	return cfg, nil
}

func checkConfig(providerID string, cfg RuntimeConfig) error {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if cfg.RedirectURI == "" {
		missing = append(missing, "redirect uri")
	}
	if len(missing) > 0 {
		return oautherr.Newf(oautherr.MissingConfig, providerID, "provider %q is missing %v", providerID, missing)
	}
	return nil
}
