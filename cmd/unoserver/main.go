// Package main provides the uno server binary: the websocket acceptor with
// its REST endpoints and the gRPC discovery service.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/uno/internal/config"
	"github.com/cory-johannsen/uno/internal/discovery"
	"github.com/cory-johannsen/uno/internal/game/library"
	"github.com/cory-johannsen/uno/internal/gameserver"
	"github.com/cory-johannsen/uno/internal/observability"
	"github.com/cory-johannsen/uno/internal/server"
	"github.com/cory-johannsen/uno/internal/session"
	"github.com/cory-johannsen/uno/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	gamesDir := flag.String("games", "", "path to game definition YAML directory (overrides server.games_dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *gamesDir != "" {
		cfg.Server.GamesDir = *gamesDir
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting uno server",
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("handshake", cfg.WebSocket.Handshake),
	)

	lib, err := library.LoadFromDir(cfg.Server.GamesDir, logger)
	if err != nil {
		logger.Fatal("loading game library", zap.String("dir", cfg.Server.GamesDir), zap.Error(err))
	}
	logger.Info("game library loaded", zap.Int("games", lib.Len()))

	registry := session.NewRegistry(logger,
		session.WithLibrary(lib),
		session.WithOutboxSize(cfg.WebSocket.OutboxSize),
		session.WithDefaultMaxPlayers(cfg.Sessions.DefaultMaxPlayers),
	)

	var (
		resolver ws.HandshakeResolver
		tokens   *ws.TokenResolver
	)
	switch cfg.WebSocket.Handshake {
	case config.HandshakeToken:
		tokens = ws.NewTokenResolver(cfg.WebSocket.TokenSecret, cfg.WebSocket.TokenTTL, registry)
		resolver = tokens
	default:
		resolver = ws.QueryResolver{Sessions: registry}
	}

	acceptor := ws.NewAcceptor(cfg.WebSocket, resolver, gameserver.NewHandler(registry, logger), logger)
	for _, mw := range gameserver.Middleware(logger) {
		acceptor.Use(mw)
	}
	gameserver.NewAPI(registry, tokens, logger).Mount(acceptor)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})
	if cfg.Discovery.Enabled {
		lifecycle.Add("discovery", discovery.NewServer(cfg.Discovery, discovery.NewService(registry, logger), logger))
	}

	logger.Info("uno server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
