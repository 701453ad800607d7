// Command social-login runs the social login endpoints with a minimal home
// page and dashboard.
//
//	social-login serve          start the HTTP server
//	social-login providers      print the provider configuration report
//	social-login env-template   print a .env template
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnehpets/socialauth/auth"
	"github.com/mnehpets/socialauth/config"
	"github.com/mnehpets/socialauth/kvstore"
	"github.com/mnehpets/socialauth/logging"
	"github.com/mnehpets/socialauth/session"
	"github.com/mnehpets/socialauth/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var envFiles []string

	load := func() (*config.Loader, error) {
		return config.Load(config.Options{DotEnvFiles: envFiles})
	}

	root := &cobra.Command{
		Use:           "social-login",
		Short:         "Social login server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to read (missing files are skipped)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "Print the provider configuration report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Report().String())
			for _, line := range cfg.SetupInstructions().Instructions {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "env-template",
		Short: "Print a .env template for every provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.EnvTemplate())
			return nil
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Loader) error {
	s := cfg.Settings()
	logger, err := logging.New(logging.Config{Env: s.Env, Level: s.LogLevel, Service: "social-login"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	keys, err := cookieKeys(s, logger)
	if err != nil {
		return err
	}
	cookies, err := kvstore.NewCookieStore(s.CookieKeyID, keys, kvstore.WithSecure(s.Production()))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := auth.NewMetrics(reg)
	if err != nil {
		return err
	}

	orch := auth.New(cfg.Registry(), cfg,
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
		auth.WithStateMaxAge(s.StateMaxAge),
		auth.WithStateSkew(s.StateSkew),
	)

	codec := session.JSONCodec
	if s.SessionCodec == "cbor" {
		codec = session.CBORCodec
	}
	opts := []web.Option{
		web.WithLogger(logger),
		web.WithOrigin(s.BaseURL),
		web.WithStateMaxAge(s.StateMaxAge),
		web.WithHSTS(s.Production()),
		web.WithSessionOptions(session.WithMaxAge(s.SessionMaxAge), session.WithCodec(codec)),
	}
	backend, closeBackend, err := sessionBackend(ctx, s)
	if err != nil {
		return err
	}
	defer closeBackend()
	if backend != nil {
		opts = append(opts, web.WithBackend(backend))
	}
	h := web.New(orch, cookies, opts...)

	for _, st := range cfg.Report().Providers {
		if st.Configured {
			logger.Info("provider configured", zap.String("provider", st.Provider))
		} else {
			logger.Warn("provider not configured", zap.String("provider", st.Provider), zap.Strings("missing", st.MissingVars))
		}
	}

	r := h.Routes()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/", home(cfg))
	r.Get("/dashboard", dashboard(h))

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", s.Addr), zap.String("base_url", s.BaseURL), zap.String("store", s.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// cookieKeys returns the configured keyring. Outside production a missing
// keyring is replaced by a random key, so sessions do not survive restarts.
func cookieKeys(s config.Settings, logger *zap.Logger) (map[string][]byte, error) {
	keys, err := s.CookieKeyring()
	if !errors.Is(err, config.ErrNoCookieKeys) || s.Production() {
		return keys, err
	}
	logger.Warn("no cookie keys configured, using an ephemeral key",
		zap.String("hint", "set "+config.EnvPrefix+"COOKIE_KEYS"))
	key := make([]byte, kvstore.DefaultAEADKeysize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return map[string][]byte{s.CookieKeyID: key}, nil
}

func sessionBackend(ctx context.Context, s config.Settings) (kvstore.Store, func(), error) {
	switch s.Store {
	case "", "cookie":
		return nil, func() {}, nil
	case "memory":
		return kvstore.NewMemory(time.Minute), func() {}, nil
	case "redis":
		client, err := kvstore.DialRedis(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return kvstore.NewRedis(client, "socialauth:"), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", s.Store)
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>Social Login</title></head>
<body>
	<h1>Sign in</h1>
	{{with .Error}}<p>Login failed: {{.}}{{with $.Details}} ({{.}}){{end}}</p>{{end}}
	<ul>
	{{range .Providers}}
		{{if .Configured}}<li><a href="/api/auth/{{.Provider}}/login?redirect_to=/dashboard">{{.Provider}}</a></li>
		{{else}}<li>{{.Provider}} (not configured)</li>{{end}}
	{{end}}
	</ul>
</body>
</html>
`))

func home(cfg *config.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := struct {
			Error, Details string
			Providers      []config.ProviderStatus
		}{
			Error:     r.URL.Query().Get("error"),
			Details:   r.URL.Query().Get("details"),
			Providers: cfg.Report().Providers,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		homeTemplate.Execute(w, data)
	}
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>Dashboard</title></head>
<body>
	<h1>Welcome, {{.User.DisplayName}}</h1>
	<p>Signed in with {{.Provider}}{{with .User.Email}} as {{.}}{{end}}.</p>
	<p>Linked providers: {{range $i, $p := .ProviderIDs}}{{if $i}}, {{end}}{{$p}}{{end}}</p>
	<p><a href="/api/auth/logout?redirect_to=/">Sign out</a></p>
</body>
</html>
`))

func dashboard(h *web.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.CurrentSession(w, r)
		if err != nil {
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		if s == nil {
			http.Redirect(w, r, "/?error=session_expired", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		dashboardTemplate.Execute(w, s)
	}
}
