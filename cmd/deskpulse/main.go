package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deskpulse/deskpulse/internal/app"
	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/config"
	"github.com/deskpulse/deskpulse/internal/conn"
	"github.com/deskpulse/deskpulse/internal/desks"
	"github.com/deskpulse/deskpulse/internal/dispatch"
	"github.com/deskpulse/deskpulse/internal/logging"
	"github.com/deskpulse/deskpulse/internal/policy"
	"github.com/deskpulse/deskpulse/internal/router"
	"github.com/deskpulse/deskpulse/internal/session"
	"github.com/deskpulse/deskpulse/internal/surface"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	url        string
	token      string
	user       string
	role       string
	logFile    string
	watch      bool
}

func run() error {
	var f flags
	flagSet := pflag.NewFlagSet("deskpulse", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "deskpulse.yaml", "path to config file (missing file means defaults)")
	flagSet.StringVar(&f.url, "url", "", "notification WebSocket URL, overrides notify.url")
	flagSet.StringVar(&f.token, "token", "", "auth token for the notification hub")
	flagSet.StringVar(&f.user, "user", "", "user id to sign in as, overrides session.user_id")
	flagSet.StringVar(&f.role, "role", "", "role id of --user")
	flagSet.StringVar(&f.logFile, "log-file", "", "log destination, overrides log.file")
	flagSet.BoolVar(&f.watch, "watch", true, "reload the config file when it changes")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg, flagSet, f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Log.File == "" {
		// The UI owns the terminal.
		cfg.Log.File = "deskpulse.log"
	}

	logger, level, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient(ctx, cfg, logger)
	defer c.close()

	m := app.New(app.Deps{
		Context:  ctx,
		Session:  c.session,
		Desks:    c.registry,
		Surface:  c.surface,
		Conn:     c.manager,
		Reloader: c.dispatcher,
		UserID:   cfg.Session.UserID,
		RoleID:   cfg.Session.RoleID,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.bridge.Run(gctx, p) })

	if f.watch {
		if _, statErr := os.Stat(f.configPath); statErr == nil {
			w, err := config.NewWatcher(f.configPath, cfg, func(_, cur *config.Config, changed []string) {
				applyFlags(cur, flagSet, f)
				c.apply(cur, changed, level)
			}, logger.Named("config"))
			if err != nil {
				return err
			}
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if cfg.Session.UserID != "" {
		if err := c.session.Login(cfg.Session.UserID, cfg.Session.RoleID); err != nil {
			return err
		}
	}

	g.Go(func() error {
		defer stop()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// applyFlags lets explicitly set flags win over the file, also after a
// reload.
func applyFlags(cfg *config.Config, flagSet *pflag.FlagSet, f flags) {
	if flagSet.Changed("url") {
		cfg.Notify.URL = f.url
	}
	if flagSet.Changed("token") {
		cfg.Notify.Token = f.token
	}
	if flagSet.Changed("user") {
		cfg.Session.UserID = f.user
		cfg.Session.RoleID = f.role
	}
	if flagSet.Changed("log-file") {
		cfg.Log.File = f.logFile
	}
}

// client is the wired notification pipeline:
// transport → manager → router → policy → dispatcher.
type client struct {
	bus        *bus.Bus
	session    *session.Context
	surface    *surface.Surface
	fetcher    *desks.HTTPFetcher
	registry   *desks.Registry
	manager    *conn.Manager
	dispatcher *dispatch.Dispatcher
	candidates *policy.Subscription
	bridge     *app.Bridge
	log        *zap.Logger
}

func newClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) *client {
	c := &client{bus: bus.New(), surface: surface.New(), log: logger}
	c.session = session.New(c.bus, logger.Named("session"))

	c.fetcher = desks.NewHTTPFetcher(cfg.APIBase(), cfg.APIToken(), cfg.API.Timeout)
	c.registry = desks.NewRegistry(c.fetcher, c.session, c.bus, logger.Named("desks"))

	rt := router.New(c.bus, logger.Named("router"), router.ReloadRule)
	transport := conn.NewWebSocketTransport(conn.WebSocketOptions{
		Token:        cfg.Notify.Token,
		PingInterval: cfg.Notify.PingInterval,
		PongTimeout:  cfg.Notify.PongTimeout,
		WriteTimeout: cfg.Notify.WriteTimeout,
		Logger:       logger.Named("ws"),
	})
	c.manager = conn.NewManager(transport, rt, c.session, c.bus, conn.Options{
		URL:           cfg.Notify.URL,
		RetryInterval: cfg.Notify.ReconnectInterval,
		Logger:        logger.Named("conn"),
	})

	engine := policy.NewEngine(c.session, c.registry, c.surface, logger.Named("policy"))
	reset := app.NewReset(ctx, c.registry, c.surface, logger.Named("app"))
	c.dispatcher = dispatch.New(c.surface, reset, c.bus, logger.Named("dispatch"))
	c.candidates = engine.Subscribe(c.bus, c.dispatcher, policy.SubscribeOptions{
		BufferUntilLoaded: cfg.Policy.BufferUntilDesksLoaded,
		BufferLimit:       cfg.Policy.BufferLimit,
	})

	// Subscribe the UI before anything publishes so no startup event is lost.
	c.bridge = app.NewBridge(c.bus, 0, logger.Named("ui"))

	c.registry.Start(ctx)
	c.manager.Start()
	return c
}

// apply reacts to a config reload.
func (c *client) apply(cfg *config.Config, changed []string, level zap.AtomicLevel) {
	for _, key := range changed {
		switch key {
		case "notify.url":
			c.manager.SetURL(cfg.Notify.URL)
		case "api.base_url":
			c.fetcher.SetBaseURL(cfg.APIBase())
		case "log.level":
			l, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				c.log.Warn("ignoring log level", zap.Error(err))
				continue
			}
			level.SetLevel(l)
		default:
			c.log.Info("config change takes effect after restart", zap.String("key", key))
		}
	}
}

func (c *client) close() {
	c.manager.Stop()
	c.registry.Stop()
	c.candidates.Close()
	c.bridge.Close()
	stats := c.dispatcher.Stats()
	c.log.Info("client stopped",
		zap.Int("reloads", stats.Reloads),
		zap.Int("advisories", stats.Advisories),
		zap.Int("ignored", stats.Ignored))
}
