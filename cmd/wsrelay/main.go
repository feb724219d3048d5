// wsrelay: CLI entry point.
//
// A host and a client each run a local websocket hub. The client's hub is
// joined to the host's over a WebRTC DataChannel, so that clients on both
// sides share one room. Signaling (SDP/ICE) runs once over a plain websocket.
//
// It can be launched interactively (no subcommand) or through the host and
// client subcommands.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/wsrelay/internal/app"
	"github.com/1ureka/wsrelay/internal/config"
	"github.com/1ureka/wsrelay/internal/util"
)

var version = "dev"

// flags holds the values bound to cobra flags. Empty or zero values leave the
// loaded config untouched.
type flags struct {
	configPath string
	debug      bool

	hubListen    string
	signalListen string
	signalURL    string
	queueLimit   int
	noMetrics    bool
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "wsrelay",
		Short:         "Join two websocket hubs into one room over a WebRTC tunnel",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			pterm.Info.Println(fmt.Sprintf("wsrelay v%s", version))
			pterm.Println()
		},
		// No subcommand → interactive mode.
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, "")
			if err != nil {
				return err
			}
			if err := askConfig(cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "path to YAML configuration file (or $"+config.EnvConfigPath+")")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&f.hubListen, "listen", "", "local hub listen address (default 127.0.0.1:8080)")
	root.PersistentFlags().IntVar(&f.queueLimit, "queue-limit", 0, "cap on messages waiting for the tunnel (0 = unbounded)")
	root.PersistentFlags().BoolVar(&f.noMetrics, "no-metrics", false, "do not serve /metrics on the hub listener")

	host := &cobra.Command{
		Use:   "host",
		Short: "Run the hub that owns the room and wait for a client bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, config.RoleHost)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	host.Flags().StringVar(&f.signalListen, "signal-listen", "", "signaling listen address (default :0, a random port)")

	client := &cobra.Command{
		Use:   "client",
		Short: "Run a hub bridged into a remote host's room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, config.RoleClient)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	client.Flags().StringVar(&f.signalURL, "url", "", "host signaling URL, e.g. ws://203.0.113.7:7000/ws")

	root.AddCommand(host, client)
	return root
}

// loadConfig reads the config file, then applies role and flags on top.
// An empty role keeps whatever the file says.
func loadConfig(f *flags, role config.Role) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, f, role); err != nil {
		return nil, err
	}

	if err := util.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if cfg.Log.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f *flags, role config.Role) error {
	if role != "" {
		cfg.Role = role
	}
	if f.debug {
		cfg.Log.Debug = true
	}
	if f.hubListen != "" {
		cfg.Hub.Listen = f.hubListen
	}
	if f.signalListen != "" {
		cfg.Signaling.Listen = f.signalListen
	}
	if f.signalURL != "" {
		wsURL, err := normalizeWSURL(f.signalURL)
		if err != nil {
			return err
		}
		cfg.Signaling.URL = wsURL
	}
	if f.queueLimit > 0 {
		cfg.Tunnel.QueueLimit = f.queueLimit
	}
	if f.noMetrics {
		cfg.Metrics.Enabled = false
	}
	return nil
}

// run validates cfg and executes the chosen role.
func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var err error
	switch cfg.Role {
	case config.RoleHost:
		err = app.RunHost(ctx, cfg)
	case config.RoleClient:
		err = app.RunClient(ctx, cfg)
	}
	if err != nil {
		return err
	}

	util.LogInfo("successfully closed tunnel connection")
	return nil
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// askConfig fills in the role, and the signaling URL for a client, when the
// config file did not provide them.
func askConfig(cfg *config.Config) error {
	if cfg.Role == "" {
		role, err := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Host  — Own the room", "Client — Join a remote room"}).
			WithDefaultText("Select your role").
			Show()
		if err != nil {
			return err
		}
		pterm.Println()

		cfg.Role = config.RoleClient
		if strings.HasPrefix(role, "Host") {
			cfg.Role = config.RoleHost
		}
	}

	if cfg.Role == config.RoleClient && cfg.Signaling.URL == "" {
		cfg.Signaling.URL = askURL()
	}
	return nil
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling URL (e.g. ws://203.0.113.7:7000/ws)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates a raw signaling address and turns it into a
// ws:// or wss:// URL ending in /ws. A bare host:port defaults to wss.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "http" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
