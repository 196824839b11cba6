// Package main provides the web client server for the MUD. It serves
// the browser shell over HTTP and bridges WebSocket sessions to the
// game server's Telnet port.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudweb/internal/config"
	"github.com/cory-johannsen/mudweb/internal/observability"
	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/cory-johannsen/mudweb/internal/script"
	"github.com/cory-johannsen/mudweb/internal/server"
	"github.com/cory-johannsen/mudweb/internal/session"
	"github.com/cory-johannsen/mudweb/internal/storage/postgres"
	"github.com/cory-johannsen/mudweb/internal/web"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting mudweb",
		zap.String("web_addr", cfg.Web.Addr()),
		zap.String("upstream_addr", cfg.Upstream.Addr()),
	)

	deps := web.Deps{
		Logger:  logger,
		Manager: session.NewManager(),
	}

	rules := route.DefaultRules()
	if cfg.Channels.RulesPath != "" {
		rules, err = route.LoadRules(cfg.Channels.RulesPath)
		if err != nil {
			logger.Fatal("loading channel rules", zap.Error(err))
		}
	}
	router, err := route.NewRouter(rules)
	if err != nil {
		logger.Fatal("compiling channel rules", zap.Error(err))
	}
	deps.Router = router
	logger.Info("channel rules ready", zap.Int("channels", len(rules.Channels)))

	if cfg.Scripts.Dir != "" {
		dir := cfg.Scripts.Dir
		limit := cfg.Scripts.InstructionLimit
		deps.NewEngine = func(host script.Host) (*script.Engine, error) {
			eng, err := script.New(host, logger, limit)
			if err != nil {
				return nil, err
			}
			if err := eng.LoadDir(dir); err != nil {
				eng.Close()
				return nil, err
			}
			return eng, nil
		}
		logger.Info("user scripting enabled", zap.String("dir", dir))
	}

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	if cfg.History.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		transcripts := postgres.NewTranscriptRepository(pool.DB())
		recorder := web.NewRecorder(transcripts, logger, cfg.History.Buffer, cfg.History.BatchSize)
		deps.Sessions = postgres.NewSessionRepository(pool.DB())
		deps.Transcripts = transcripts
		deps.Recorder = recorder

		healthCtx, healthCancel := context.WithCancel(ctx)
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				return pool.HealthLoop(healthCtx, 30*time.Second, logger)
			},
			StopFn: func(context.Context) {
				healthCancel()
				recorder.Close()
				pool.Close()
			},
		})
	}

	webServer, err := web.NewServer(cfg, deps)
	if err != nil {
		logger.Fatal("building web server", zap.Error(err))
	}
	lifecycle.Add("web", webServer)

	logger.Info("web client initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("history", cfg.History.Enabled),
		zap.Bool("scripting", cfg.Scripts.Dir != ""),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
