package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mnehpets/socialauth/auth"
	"github.com/mnehpets/socialauth/oautherr"
)

func load(t *testing.T, environ map[string]string) *Loader {
	t.Helper()
	l, err := Load(Options{Environment: environ})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l
}

func TestLoad_Defaults(t *testing.T) {
	s := load(t, map[string]string{}).Settings()
	if s.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", s.BaseURL)
	}
	if s.SessionMaxAge != 7*24*time.Hour {
		t.Errorf("SessionMaxAge = %v", s.SessionMaxAge)
	}
	if s.StateMaxAge != 5*time.Minute || s.StateSkew != time.Second {
		t.Errorf("state bounds = %v, %v", s.StateMaxAge, s.StateSkew)
	}
	if s.Store != "cookie" || s.SessionCodec != "json" {
		t.Errorf("store/codec = %q/%q", s.Store, s.SessionCodec)
	}
	if s.Production() {
		t.Error("default env reported as production")
	}
}

func TestLoad_Settings(t *testing.T) {
	s := load(t, map[string]string{
		"SOCIALAUTH_BASE_URL":        "https://app.example.com/",
		"SOCIALAUTH_ENV":             "production",
		"SOCIALAUTH_STATE_SKEW":      "2s",
		"SOCIALAUTH_REDIS_DB":        "3",
		"SOCIALAUTH_STORE":           "redis",
		"SOCIALAUTH_SESSION_MAX_AGE": "1h",
	}).Settings()
	if s.BaseURL != "https://app.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", s.BaseURL)
	}
	if !s.Production() {
		t.Error("expected production")
	}
	if s.StateSkew != 2*time.Second || s.RedisDB != 3 || s.Store != "redis" || s.SessionMaxAge != time.Hour {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestLoad_BadValue(t *testing.T) {
	_, err := Load(Options{Environment: map[string]string{"SOCIALAUTH_STATE_MAX_AGE": "soon"}})
	if err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	content := "GOOGLE_CLIENT_ID=from-file\nGOOGLE_CLIENT_SECRET=file-secret\nSOCIALAUTH_BASE_URL=https://file.example\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	l, err := Load(Options{
		DotEnvFiles: []string{filepath.Join(dir, "missing.env"), file},
		Environment: map[string]string{"GOOGLE_CLIENT_ID": "from-env"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := l.Config("google")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.ClientID != "from-env" {
		t.Errorf("ClientID = %q, environment should win over .env", cfg.ClientID)
	}
	if cfg.ClientSecret != "file-secret" {
		t.Errorf("ClientSecret = %q", cfg.ClientSecret)
	}
	if cfg.RedirectURI != "https://file.example/api/auth/google/callback" {
		t.Errorf("RedirectURI = %q", cfg.RedirectURI)
	}
}

func TestEnvVars(t *testing.T) {
	if got, want := EnvVars("google"), (VarNames{"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "PUBLIC_GOOGLE_CLIENT_ID"}); got != want {
		t.Errorf("google = %+v", got)
	}
	if got, want := EnvVars("line"), (VarNames{"LINE_CHANNEL_ID", "LINE_CHANNEL_SECRET", "PUBLIC_LINE_CHANNEL_ID"}); got != want {
		t.Errorf("line = %+v", got)
	}
}

func TestConfig_LineChannelNames(t *testing.T) {
	l := load(t, map[string]string{
		"LINE_CHANNEL_ID":        "123",
		"LINE_CHANNEL_SECRET":    "s3cret",
		"PUBLIC_LINE_CHANNEL_ID": "123-public",
		// The generic names are not consulted for LINE.
		"LINE_CLIENT_ID": "ignored",
	})
	cfg, err := l.Config("line")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.ClientID != "123" || cfg.ClientSecret != "s3cret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := l.PublicClientID("line"); got != "123-public" {
		t.Errorf("PublicClientID = %q", got)
	}

	l = load(t, map[string]string{"LINE_CLIENT_ID": "a", "LINE_CLIENT_SECRET": "b"})
	if l.IsConfigured("line") {
		t.Error("LINE must only use channel variables")
	}
}

func TestConfig_Missing(t *testing.T) {
	l := load(t, map[string]string{"GITHUB_CLIENT_ID": "id"})
	_, err := l.Config("github")
	if oautherr.CodeOf(err) != oautherr.MissingConfig {
		t.Fatalf("code = %q, want missing_config", oautherr.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "GITHUB_CLIENT_SECRET") || strings.Contains(err.Error(), "GITHUB_CLIENT_ID,") {
		t.Errorf("error should name only the missing variable: %v", err)
	}

	_, err = l.Config("myspace")
	if oautherr.CodeOf(err) != oautherr.InvalidProvider {
		t.Errorf("code = %q, want invalid_provider", oautherr.CodeOf(err))
	}
}

func TestConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "providers.yaml")
	yml := `
providers:
  google:
    scopes: [openid, email]
    params:
      hd: example.com
`
	if err := os.WriteFile(file, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	l := load(t, map[string]string{
		"SOCIALAUTH_PROVIDERS_FILE": file,
		"GOOGLE_CLIENT_ID":          "id",
		"GOOGLE_CLIENT_SECRET":      "secret",
		"GITHUB_CLIENT_ID":          "id",
		"GITHUB_CLIENT_SECRET":      "secret",
	})
	cfg, err := l.Config("google")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Scopes, []string{"openid", "email"}) {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}
	if cfg.AdditionalParams["hd"] != "example.com" {
		t.Errorf("AdditionalParams = %v", cfg.AdditionalParams)
	}

	// Returned configs do not alias the loader's overrides.
	cfg.AdditionalParams["hd"] = "other.com"
	again, _ := l.Config("google")
	if again.AdditionalParams["hd"] != "example.com" {
		t.Error("override mutated through returned config")
	}

	gh, err := l.Config("github")
	if err != nil {
		t.Fatal(err)
	}
	if gh.Scopes != nil || gh.AdditionalParams != nil {
		t.Errorf("github should have no overrides: %+v", gh)
	}
}

func TestConfig_OverridesErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown provider": "providers:\n  myspace:\n    scopes: [a]\n",
		"unknown field":    "providers:\n  google:\n    scope: [a]\n",
		"not yaml":         "providers: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			file := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(Options{Environment: map[string]string{"SOCIALAUTH_PROVIDERS_FILE": file}}); err == nil {
				t.Error("expected error")
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(Options{Environment: map[string]string{"SOCIALAUTH_PROVIDERS_FILE": filepath.Join(dir, "nope.yaml")}})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		file := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(file, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(Options{Environment: map[string]string{"SOCIALAUTH_PROVIDERS_FILE": file}}); err != nil {
			t.Errorf("empty overrides file: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	got := Validate(auth.RuntimeConfig{ClientID: "id"})
	if !reflect.DeepEqual(got, []string{"ClientSecret", "RedirectURI"}) {
		t.Errorf("Validate = %v", got)
	}
	if got := Validate(auth.RuntimeConfig{ClientID: "a", ClientSecret: "b", RedirectURI: "c"}); len(got) != 0 {
		t.Errorf("Validate complete = %v", got)
	}
}

func TestReport(t *testing.T) {
	l := load(t, map[string]string{
		"GOOGLE_CLIENT_ID":     "id",
		"GOOGLE_CLIENT_SECRET": "secret",
		"DISCORD_CLIENT_ID":    "id",
	})
	r := l.Report()
	if len(r.Providers) != 6 {
		t.Fatalf("providers = %d", len(r.Providers))
	}
	if !reflect.DeepEqual(r.Configured, []string{"google"}) {
		t.Errorf("Configured = %v", r.Configured)
	}
	if !reflect.DeepEqual(r.Missing, []string{"line", "facebook", "github", "discord", "twitter"}) {
		t.Errorf("Missing = %v", r.Missing)
	}
	text := r.String()
	for _, want := range []string{"Total Providers: 6", "Configured: 1", "discord: DISCORD_CLIENT_SECRET", "line: LINE_CHANNEL_ID, LINE_CHANNEL_SECRET"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestEnvTemplateAndSetup(t *testing.T) {
	l := load(t, map[string]string{})
	tmpl := l.EnvTemplate()
	for _, want := range []string{
		"LINE_CHANNEL_ID=your_line_client_id",
		"PUBLIC_LINE_CHANNEL_ID=your_line_client_id",
		"TWITTER_CLIENT_SECRET=your_twitter_client_secret",
	} {
		if !strings.Contains(tmpl, want) {
			t.Errorf("template missing %q", want)
		}
	}

	s := l.SetupInstructions()
	if s.Complete || s.ConfiguredCount != 0 || s.TotalCount != 6 {
		t.Errorf("setup = %+v", s)
	}
	if len(s.Instructions) == 0 || s.Instructions[len(s.Instructions)-1] != tmpl {
		t.Error("instructions should end with the template")
	}

	all := map[string]string{}
	for _, id := range l.Registry().IDs() {
		n := EnvVars(id)
		all[n.ClientID], all[n.ClientSecret] = "x", "y"
	}
	s = load(t, all).SetupInstructions()
	if !s.Complete || len(s.Instructions) != 0 || s.ConfiguredCount != 6 {
		t.Errorf("complete setup = %+v", s)
	}
}

func TestCookieKeyring(t *testing.T) {
	k1 := make([]byte, 32)
	k2 := make([]byte, 32)
	k2[0] = 1
	std := base64.StdEncoding.EncodeToString(k1)
	rawURL := base64.RawURLEncoding.EncodeToString(k2)

	keys, err := Settings{CookieKeyID: "k2", CookieKeys: "k1:" + std + ", k2:" + rawURL}.CookieKeyring()
	if err != nil {
		t.Fatalf("CookieKeyring: %v", err)
	}
	if len(keys) != 2 || keys["k2"][0] != 1 || len(keys["k1"]) != 32 {
		t.Errorf("keys = %v", keys)
	}

	if _, err := (Settings{CookieKeyID: "k1"}).CookieKeyring(); !errors.Is(err, ErrNoCookieKeys) {
		t.Errorf("empty: err = %v", err)
	}
	for _, bad := range []string{"k1", "k1:", "k1:!!!", "k9:" + std} {
		if _, err := (Settings{CookieKeyID: "k1", CookieKeys: bad}).CookieKeyring(); err == nil {
			t.Errorf("CookieKeys %q: expected error", bad)
		}
	}
}
