package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"

	"github.com/schoolhub/session-agent/internal/app"
	"github.com/schoolhub/session-agent/internal/config"
	"github.com/schoolhub/session-agent/internal/env"
	"github.com/schoolhub/session-agent/internal/logger"
)

const appName = "session-agent"

func main() {
	displayAppname(appName)

	cfg, err := config.Load(env.GetOrDefault("SESSION_AGENT_CONFIG", ""))
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Get().Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open credential store")
	}
	defer closeBackend()

	agent := app.New(cfg, backend)
	agent.Restore(ctx)

	if cfg.Admin.APIKey == "" {
		logger.Get().Warn().Msg("No admin API key configured, admin endpoints will refuse every request")
	}

	if err := agent.Server.Start(ctx, cfg.Admin.Addr); err != nil {
		agent.Close()
		logger.Get().Fatal().Err(err).Msg("Failed to start server")
	}

	agent.Close()
	logger.Get().Info().Msg("Server stopped")
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
