package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trapdoor-sh/trapdoor/internal/api"
	"github.com/trapdoor-sh/trapdoor/internal/config"
	"github.com/trapdoor-sh/trapdoor/internal/gateway"
	"github.com/trapdoor-sh/trapdoor/internal/janitor"
	"github.com/trapdoor-sh/trapdoor/internal/security"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
)

// App holds the runtime components
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	TokenStore *security.FileTokenStore
	Server     *api.Server
	Janitor    *janitor.Janitor
}

func main() {
	os.Exit(run())
}

func run() int {
	// Subcommands come before flag parsing: the first non-flag argument
	// selects one.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		return runTokenCommand(os.Args[2:])
	}

	fs := flag.NewFlagSet("trapdoor", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default ~/.trapdoor/config.json)")
	level := fs.String("level", "", "access level: limited, solid or full")
	limited := fs.Bool("limited", false, "read-only filesystem access (default)")
	solid := fs.Bool("solid", false, "read/write filesystem, no exec")
	full := fs.Bool("full", false, "full access including delete and exec")
	port := fs.Int("port", 0, "listen port (default 6969)")
	host := fs.String("host", "", "listen host (default 0.0.0.0)")
	yes := fs.Bool("y", false, "skip the confirmation required for -full")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Printf("trapdoor %s (%s)\n", version, buildTime)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Flag overrides. The level shorthands win over -level.
	if *level != "" {
		cfg.Access.Level = *level
	}
	switch {
	case *full:
		cfg.Access.Level = "full"
	case *solid:
		cfg.Access.Level = "solid"
	case *limited:
		cfg.Access.Level = "limited"
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *yes {
		cfg.Access.ConfirmFull = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	accessLevel, err := security.ParseLevel(cfg.Access.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Starting at full is a deliberate act: require the operator to say
	// so before the process begins serving.
	if accessLevel == security.LevelFull && !cfg.Access.ConfirmFull {
		if !confirmFullAccess(os.Stdin, os.Stdout) {
			fmt.Println("Aborted. Use -limited or -solid for safer options.")
			return 1
		}
	}

	logger := newLogger(cfg.Server.LogLevel)

	app, err := buildApp(cfg, accessLevel, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	printBanner(app, accessLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchSignals(cancel, logger)

	// One sweep at startup so a loosened token file never serves a
	// single request.
	app.Janitor.CheckOnce()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Server.Start(ctx) })
	g.Go(func() error { return app.Janitor.Run(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("gateway exited", "error", err)
		return 1
	}

	logger.Info("gateway stopped")
	return 0
}

// loadConfig loads the config file when present and falls back to defaults
// when it is not. An explicit -config path must exist.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	cfg := config.DefaultConfig()
	defaultPath := filepath.Join(cfg.Server.DataDir, "config.json")
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return cfg, nil
}

// buildApp wires the components in dependency order: store and policy
// first, gateways on top, transport last.
func buildApp(cfg *config.Config, level security.Level, logger *slog.Logger) (*App, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	store := security.NewFileTokenStore(cfg.TokenPath())
	if _, ok, err := store.Get(); err != nil {
		return nil, err
	} else if !ok {
		cred, err := store.Generate()
		if err != nil {
			return nil, err
		}
		// Shown once. The secret cannot be recovered later, only
		// regenerated.
		fmt.Printf("\nNew token generated: %s\n", cred.Value)
		fmt.Printf("Stored at %s (delete that file to revoke)\n\n", store.Path())
	}

	grants, err := security.NewGrantIssuer()
	if err != nil {
		return nil, err
	}

	rules, err := security.LoadCommandRules(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	resolver := security.NewPathResolver(cfg.Access.AllowedRoots, cfg.Access.ForbiddenPaths)
	auth := security.NewAuthenticator(store, level, grants)
	fsGw := gateway.NewFSGateway(resolver, cfg.Limits.MaxReadBytes, logger)
	execGw := gateway.NewExecGateway(rules, resolver,
		time.Duration(cfg.Limits.ExecTimeoutSec)*time.Second,
		time.Duration(cfg.Limits.MaxTimeoutSec)*time.Second,
		cfg.Limits.MaxOutputBytes, logger)
	dispatcher := gateway.NewDispatcher(auth, grants, fsGw, execGw)

	listenPort, err := findOpenPort(cfg.Server.Host, cfg.Server.Port, 100)
	if err != nil {
		return nil, err
	}
	if listenPort != cfg.Server.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Server.Port, listenPort)
		cfg.Server.Port = listenPort
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		TokenStore: store,
		Server: api.NewServer(cfg.Server.Host, listenPort, dispatcher, execGw,
			auth, store, version, logger),
		Janitor: janitor.New(store.Path(), logger),
	}, nil
}

// findOpenPort probes upward from start for a bindable port.
func findOpenPort(host string, start, maxTries int) (int, error) {
	for port := start; port < start+maxTries; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no open port in range %d-%d", start, start+maxTries)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// watchSignals cancels the run context on shutdown signals. Platform
// specific signals (SIGHUP on unix) are handled without shutting down.
func watchSignals(cancel context.CancelFunc, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	for sig := range sigCh {
		if handlePlatformSignal(sig, logger) {
			continue
		}
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		return
	}
}

func printBanner(app *App, level security.Level) {
	fingerprint := "(none)"
	if cred, ok, _ := app.TokenStore.Get(); ok {
		fingerprint = security.Fingerprint(cred.Value)
	}

	mark := func(c security.Category) string {
		if level.Allows(c) {
			return "✓"
		}
		return "✗"
	}

	fmt.Printf(`
Trapdoor %s - local gateway for remote AI access

  Access level: %s
  %s

  Permissions:
  %s read     - browse and read files
  %s write    - create and modify files
  %s delete   - remove files and directories
  %s exec     - run commands

  Token fingerprint: %s (full value: trapdoor token show)
  Local: http://%s:%d

Revoke at any time: rm %s
`,
		version,
		level, level.Description(),
		mark(security.CategoryRead),
		mark(security.CategoryWrite),
		mark(security.CategoryDelete),
		mark(security.CategoryExec),
		fingerprint,
		app.Config.Server.Host, app.Config.Server.Port,
		app.TokenStore.Path(),
	)
}
