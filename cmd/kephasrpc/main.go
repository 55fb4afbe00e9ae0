package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/config"
	"github.com/luciancaetano/kephasrpc/internal/logging"
	"github.com/luciancaetano/kephasrpc/ws"
)

const shutdownTimeout = 5 * time.Second

var longHelp = strings.TrimSpace(`
Serve JSON-RPC domains over WebSocket.

Every connection may call the server's domains and be called back. The demo
domains are:
  - math.add, math.sub    arithmetic on two numbers
  - system.clients        number of connected clients
  - system.uptime         time since start
  - system.whoami         id and address of the caller
  - echo.*                returns its parameters verbatim
  - chat.send, chat.users, chat.rename
                          a chat room relayed through chat.* broadcasts

Configuration comes from a TOML file, KEPHASRPC_* environment variables and
flags, flags taking precedence.
`)

var exampleUsage = strings.TrimSpace(`
  kephasrpc --addr :9000
  kephasrpc --config $HOME/.kephasrpc/config.toml --log-level debug
  KEPHASRPC_HEARTBEAT=10s kephasrpc --no-rate-limit
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "kephasrpc",
		Short:         "Serve JSON-RPC domains over WebSocket",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && config.FileExists(cfgFile) {
				fc, err := config.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := config.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			} else if cfgPath != "" {
				return fmt.Errorf("config file %s not found", cfgPath)
			}

			// Environment overrides the file, flags override both
			if err := config.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := logging.SetLevel(cfg.LogLevel); err != nil {
				return err
			}

			log := logging.Logger()
			log.Info().Interface("config", cfg).Msg("configuration")

			return run(cmd.Context(), cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.kephasrpc/config.toml)")
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.Path, "path", cfg.Path, "HTTP path upgraded to websocket")
	flags.DurationVar(&cfg.HeartbeatDelay, "heartbeat", cfg.HeartbeatDelay, "ping period, 0 disables heartbeats")
	flags.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "drop clients silent for this long (default: twice the heartbeat)")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "messages per second allowed per client")
	flags.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "burst of messages allowed per client")
	flags.BoolVar(&cfg.NoRateLimit, "no-rate-limit", cfg.NoRateLimit, "disable inbound rate limiting")
	flags.BoolVar(&cfg.SyncHandlers, "sync-handlers", cfg.SyncHandlers, "run handlers on the connection read goroutine")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "accepted Origin header, repeatable (default: any)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		log := logging.Logger()
		log.Error().Err(err).Msg("kephasrpc")
		os.Exit(1)
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	log := logging.Logger()
	started := time.Now()
	room := newChatRoom(log)

	sc := cfg.ServerConfig()
	sc.ExceptionHandler = logging.ExceptionHandler(log)
	sc.OnConnect = func(client kephasrpc.Client) {
		log.Info().Str("client_id", client.ID()).Str("remote_addr", client.RemoteAddr()).Msg("client connected")
		room.join(client)
	}
	sc.OnClientDisconnect = func(client kephasrpc.Client, voluntary bool) {
		log.Info().Str("client_id", client.ID()).Bool("voluntary", voluntary).Msg("client disconnected")
		room.leave(client)
	}

	server := ws.New(sc)
	room.server = server

	domains := []struct {
		name     string
		supplier kephasrpc.DomainSupplier
	}{
		{name: "math", supplier: mathDomain},
		{name: "system", supplier: systemDomain(server, started)},
		{name: "echo", supplier: echoDomain},
		{name: "chat", supplier: room.domain},
	}
	for _, d := range domains {
		if err := server.RegisterDomain(d.name, d.supplier, false); err != nil {
			return fmt.Errorf("register %s: %w", d.name, err)
		}
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("received signal, stopping...")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}
