package servecmder

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/pitchrelay/pkg/config"
	"github.com/papercomputeco/pitchrelay/pkg/logger"
	"github.com/papercomputeco/pitchrelay/pkg/upstream"
	"github.com/papercomputeco/pitchrelay/relay"
)

const serveLongDesc string = `Run the relay HTTP server.

Configuration is read from the environment, optionally seeded from a
dotenv file:

  API_URL                 chat-completion endpoint (required for /convert)
  API_KEY                 Authorization header value (required for /convert)
  RELAY_MODEL             model identifier (default gpt-3.5-turbo)
  RELAY_UPSTREAM_TIMEOUT  per-attempt timeout (default 30s)
  RELAY_MAX_RETRIES       retries on 429/500/502/503/504 (default 3)
  RELAY_BACKOFF_BASE      wait before the first retry (default 1s)
  RELAY_LISTEN            listen address (default 0.0.0.0:5000)
  RELAY_DEBUG             enable debug logging

Examples:
  relay serve
  relay serve --listen 127.0.0.1:5000 --env-file ./backend/.env`

const serveShortDesc string = "Run the relay server"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	routeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type serveCommander struct {
	listen  string
	envFile string
	debug   bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides RELAY_LISTEN)")
	cmd.Flags().StringVar(&cmder.envFile, "env-file", config.DefaultEnvFile, "Dotenv file to load before reading the environment")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.ListenAddr = c.listen
	}
	if c.debug {
		cfg.Debug = true
	}

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	missing := cfg.Missing()
	if len(missing) > 0 {
		log.Warn("upstream is not fully configured, convert requests will fail",
			zap.Strings("missing", missing),
		)
	}

	client := upstream.New(upstream.Config{
		URL:         cfg.Upstream.URL,
		APIKey:      cfg.Upstream.APIKey,
		Timeout:     cfg.Upstream.Timeout,
		MaxRetries:  cfg.Upstream.MaxRetries,
		BackoffBase: cfg.Upstream.BackoffBase,
	}, log)

	r := relay.New(relay.Config{
		ListenAddr: cfg.ListenAddr,
		Model:      cfg.Upstream.Model,
	}, client, log)

	printBanner(cmd.OutOrStdout(), cfg.ListenAddr, missing)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down relay server")
		return r.Shutdown()
	}
}

func printBanner(w io.Writer, addr string, missing []string) {
	fmt.Fprintln(w, titleStyle.Render("Pitch relay listening on "+addr))
	fmt.Fprintln(w, routeStyle.Render("  POST /convert   (also /api/convert)"))
	fmt.Fprintln(w, routeStyle.Render("  GET  /health    (also /api/health)"))
	for _, env := range missing {
		fmt.Fprintln(w, warnStyle.Render("  "+env+" is not set"))
	}
	fmt.Fprintln(w)
}
