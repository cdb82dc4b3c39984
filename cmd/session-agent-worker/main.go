//go:build js && wasm

package main

import (
	"context"

	"github.com/syumai/workers"

	"github.com/schoolhub/session-agent/internal/app"
	"github.com/schoolhub/session-agent/internal/config"
	"github.com/schoolhub/session-agent/internal/credentials"
	"github.com/schoolhub/session-agent/internal/logger"
)

var agent *app.Agent

func init() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Create Cloudflare KV backend for Workers environment
	backend, err := credentials.NewCloudflareKVBackend(cfg.Store.KVBinding)
	if err != nil {
		logger.Get().Fatal().Err(err).Str("binding", cfg.Store.KVBinding).Msg("Failed to open credential store")
	}

	agent = app.New(cfg, backend)
	agent.Restore(context.Background())
}

func main() {
	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(agent.Server)
}
