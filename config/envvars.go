package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// VarNames are the environment variables holding one provider's
// credentials.
type VarNames struct {
	ClientID       string
	ClientSecret   string
	PublicClientID string
}

// EnvVars returns the variable names for providerID.
func EnvVars(providerID string) VarNames {
	p := strings.ToUpper(providerID)
	if providerID == "line" {
		return VarNames{
			ClientID:       "LINE_CHANNEL_ID",
			ClientSecret:   "LINE_CHANNEL_SECRET",
			PublicClientID: "PUBLIC_LINE_CHANNEL_ID",
		}
	}
	return VarNames{
		ClientID:       p + "_CLIENT_ID",
		ClientSecret:   p + "_CLIENT_SECRET",
		PublicClientID: "PUBLIC_" + p + "_CLIENT_ID",
	}
}

type clientVars struct {
	ID     string `env:"CLIENT_ID"`
	Secret string `env:"CLIENT_SECRET"`
}

// channelVars is LINE's naming.
type channelVars struct {
	ID     string `env:"CHANNEL_ID"`
	Secret string `env:"CHANNEL_SECRET"`
}

type credentials struct {
	ClientID       string
	ClientSecret   string
	PublicClientID string
}

func (c credentials) missing(names VarNames) []string {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, names.ClientID)
	}
	if c.ClientSecret == "" {
		missing = append(missing, names.ClientSecret)
	}
	return missing
}

func (l *Loader) credentials(providerID string) (credentials, error) {
	prefix := strings.ToUpper(providerID) + "_"
	if providerID == "line" {
		var v, pub channelVars
		if err := l.parse(&v, prefix); err != nil {
			return credentials{}, err
		}
		if err := l.parse(&pub, "PUBLIC_"+prefix); err != nil {
			return credentials{}, err
		}
		return credentials{ClientID: v.ID, ClientSecret: v.Secret, PublicClientID: pub.ID}, nil
	}
	var v, pub clientVars
	if err := l.parse(&v, prefix); err != nil {
		return credentials{}, err
	}
	if err := l.parse(&pub, "PUBLIC_"+prefix); err != nil {
		return credentials{}, err
	}
	return credentials{ClientID: v.ID, ClientSecret: v.Secret, PublicClientID: pub.ID}, nil
}

func (l *Loader) parse(v any, prefix string) error {
	return env.ParseWithOptions(v, env.Options{Prefix: prefix, Environment: l.environ})
}

// ProviderStatus describes whether one provider can be used.
type ProviderStatus struct {
	Provider    string   `json:"provider"`
	Configured  bool     `json:"configured"`
	MissingVars []string `json:"missingVars,omitempty"`
}

// Status reports the configuration state of providerID.
func (l *Loader) Status(providerID string) ProviderStatus {
	st := ProviderStatus{Provider: providerID}
	names := EnvVars(providerID)
	c, err := l.credentials(providerID)
	if err != nil {
		st.MissingVars = []string{names.ClientID, names.ClientSecret}
		return st
	}
	st.MissingVars = c.missing(names)
	st.Configured = len(st.MissingVars) == 0
	return st
}

// Report summarises the configuration of every registered provider.
type Report struct {
	Providers  []ProviderStatus
	Configured []string
	Missing    []string
}

// Report builds the configuration report, in registry order.
func (l *Loader) Report() Report {
	var r Report
	for _, id := range l.registry.IDs() {
		st := l.Status(id)
		r.Providers = append(r.Providers, st)
		if st.Configured {
			r.Configured = append(r.Configured, id)
		} else {
			r.Missing = append(r.Missing, id)
		}
	}
	return r
}

func (r Report) String() string {
	var b strings.Builder
	b.WriteString("OAuth Provider Configuration Report\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	fmt.Fprintf(&b, "Total Providers: %d\n", len(r.Providers))
	fmt.Fprintf(&b, "Configured: %d\n", len(r.Configured))
	fmt.Fprintf(&b, "Missing Configuration: %d\n", len(r.Missing))
	if len(r.Configured) > 0 {
		b.WriteString("\nConfigured Providers:\n")
		for _, id := range r.Configured {
			fmt.Fprintf(&b, "  - %s\n", id)
		}
	}
	if len(r.Missing) > 0 {
		b.WriteString("\nMissing Configuration:\n")
		for _, st := range r.Providers {
			if !st.Configured {
				fmt.Fprintf(&b, "  - %s: %s\n", st.Provider, strings.Join(st.MissingVars, ", "))
			}
		}
	}
	return b.String()
}

// EnvTemplate returns a .env template covering every registered provider.
func (l *Loader) EnvTemplate() string {
	var b strings.Builder
	b.WriteString("# OAuth Provider Configuration\n")
	b.WriteString("# Copy this to your .env file and fill in your credentials\n\n")
	for _, id := range l.registry.IDs() {
		names := EnvVars(id)
		fmt.Fprintf(&b, "# %s OAuth Configuration\n", strings.ToUpper(id))
		fmt.Fprintf(&b, "%s=your_%s_client_id\n", names.ClientID, id)
		fmt.Fprintf(&b, "%s=your_%s_client_secret\n", names.ClientSecret, id)
		fmt.Fprintf(&b, "%s=your_%s_client_id\n\n", names.PublicClientID, id)
	}
	return b.String()
}

// Setup is the result of SetupInstructions.
type Setup struct {
	Complete        bool
	Instructions    []string
	ConfiguredCount int
	TotalCount      int
}

// SetupInstructions lists what remains to be configured. Instructions is
// empty when every provider is configured.
func (l *Loader) SetupInstructions() Setup {
	r := l.Report()
	s := Setup{
		Complete:        len(r.Missing) == 0,
		ConfiguredCount: len(r.Configured),
		TotalCount:      len(r.Providers),
	}
	if s.Complete {
		return s
	}
	s.Instructions = append(s.Instructions, "To complete the OAuth setup, you need to:", "")
	for _, st := range r.Providers {
		if st.Configured {
			continue
		}
		s.Instructions = append(s.Instructions, strings.ToUpper(st.Provider)+":")
		for _, name := range st.MissingVars {
			s.Instructions = append(s.Instructions, "  - Set "+name+" in your environment variables")
		}
		s.Instructions = append(s.Instructions, "")
	}
	s.Instructions = append(s.Instructions, "Environment variable template:", l.EnvTemplate())
	return s
}
