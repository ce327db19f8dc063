package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deskpulse/deskpulse/internal/config"
	"github.com/deskpulse/deskpulse/internal/hub"
	"github.com/deskpulse/deskpulse/internal/logging"
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

func run() error {
	var configPath, host, token, rosterPath, logFile string
	var port int
	flagSet := pflag.NewFlagSet("deskpulse-hub", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "deskpulse.yaml", "path to config file (missing file means defaults)")
	flagSet.StringVar(&host, "host", "", "listen host, overrides hub.host")
	flagSet.IntVar(&port, "port", 0, "listen port, overrides hub.port")
	flagSet.StringVar(&token, "token", "", "required client token, overrides hub.auth_token")
	flagSet.StringVar(&rosterPath, "roster", "", "desk roster yaml file, overrides hub.roster")
	flagSet.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if host != "" {
		cfg.Hub.Host = host
	}
	if port > 0 {
		cfg.Hub.Port = port
	}
	if flagSet.Changed("token") {
		cfg.Hub.AuthToken = token
	}
	if rosterPath != "" {
		cfg.Hub.Roster = rosterPath
	}

	logger, _, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        logFile,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	roster := hub.NewRoster()
	if cfg.Hub.Roster != "" {
		roster, err = hub.LoadRoster(cfg.Hub.Roster)
		if err != nil {
			return err
		}
		logger.Info("roster loaded", zap.String("path", cfg.Hub.Roster))
	}

	broadcaster := hub.NewBroadcaster(hub.BroadcastOptions{
		MaxConnections: cfg.Hub.MaxConnections,
		SendBuffer:     cfg.Hub.SendBuffer,
		WriteTimeout:   cfg.Hub.WriteTimeout,
		PingInterval:   cfg.Hub.PingInterval,
	}, logger.Named("broadcast"))
	defer broadcaster.Close()

	server := hub.NewServer(broadcaster, roster, hub.ServerOptions{
		AuthToken:      cfg.Hub.AuthToken,
		AllowedOrigins: cfg.Hub.AllowedOrigins,
		PongTimeout:    2 * cfg.Hub.PingInterval,
	}, logger.Named("hub"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.ListenAndServe(gctx, cfg.Hub.Host, cfg.Hub.Port, server.Handler(), logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Int("clients", broadcaster.ClientCount()))
		broadcaster.Close()
		return nil
	})
	return g.Wait()
}
