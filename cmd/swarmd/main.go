package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/agents"
	"github.com/tern-labs/swarmd/internal/api"
	"github.com/tern-labs/swarmd/internal/config"
	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/logging"
	"github.com/tern-labs/swarmd/internal/pipeline"
	"github.com/tern-labs/swarmd/internal/pruner"
	"github.com/tern-labs/swarmd/internal/quotes"
	"github.com/tern-labs/swarmd/internal/readmodel"
	"github.com/tern-labs/swarmd/internal/reason"
	"github.com/tern-labs/swarmd/internal/registry"
	"github.com/tern-labs/swarmd/internal/risk"
	"github.com/tern-labs/swarmd/internal/state"
	"github.com/tern-labs/swarmd/internal/synth"
)

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.File = cfg.LogFile
	log := logging.New(logCfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open db")
	}
	defer db.Close()

	bus := eventbus.NewBus(db, log)
	store := state.NewStore(db)
	reg := registry.New(bus, log)

	var quoteSvc quotes.Service
	switch cfg.QuoteProvider {
	case "yahoo":
		quoteSvc = quotes.NewYahoo()
	default:
		quoteSvc = quotes.NewSimulated(quotes.DefaultBasePrices, time.Now().UnixNano())
	}

	var reasoner reason.Client = reason.NewRuleBased()
	if cfg.OpenAIAPIKey != "" {
		reasoner = reason.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}

	checker := risk.NewChecker(store, bus, risk.Config{
		MaxPositionPct: cfg.MaxPositionPct,
		MinConfidence:  cfg.MinConfidence,
	}, log)

	scout := agents.NewScout(bus, store, quoteSvc, cfg.Symbols, cfg.ScoutInterval, log)
	analyst := agents.NewAnalyst(bus, store, quoteSvc, scout.History(), cfg.Symbols, cfg.AnalystInterval, log)
	hound := agents.NewNewsHound(bus, store, agents.NewSimulatedHeadlines(time.Now().UnixNano()), cfg.Symbols, cfg.NewsHoundInterval, log)
	quant := agents.NewQuant(bus, store, quoteSvc, scout.History(), cfg.Symbols, cfg.QuantInterval, log)
	ingestion := agents.NewIngestion(bus, store, agents.NewSimulatedFilings(time.Now().UnixNano()), cfg.Symbols, cfg.IngestionInterval, log)

	orchestrator := pipeline.New(bus, store, checker, reasoner,
		[]pipeline.Collector{analyst, hound, ingestion},
		synth.Weights{
			Technical:   cfg.TechnicalWeight,
			Fundamental: cfg.FundamentalWeight,
			Sentiment:   cfg.SentimentWeight,
		},
		synth.Thresholds{Buy: cfg.BuyThreshold, Sell: cfg.SellThreshold},
		log,
		pipeline.WithRegistry(reg),
	)
	strategist := agents.NewStrategist(bus, orchestrator, cfg.StrategistInterval, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	go analyst.Watch(rootCtx)
	go strategist.Watch(rootCtx)

	runner := agents.NewRunner(reg, log)
	if err := runner.Start(rootCtx, scout, analyst, hound, quant, ingestion, strategist); err != nil {
		log.Fatal().Err(err).Msg("start swarm")
	}

	retention := pruner.New(bus, store, cfg.RetentionMaxAge, cfg.PruneInterval, log)
	go retention.Run(rootCtx)

	apiServer := &api.Server{
		Bus:       bus,
		Store:     store,
		Views:     readmodel.New(bus, store, reg),
		Research:  orchestrator,
		StartedAt: time.Now(),
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.HTTPAddr).Msg("listen")
	}

	httpServer := &http.Server{
		Handler:           requestLogger(log, apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return rootCtx
		},
	}

	go func() {
		log.Info().Stringer("addr", listener.Addr()).Msg("swarmd listening")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	rootCancel()
	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	_ = httpServer.Close()
}

func requestLogger(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("http request")
	})
}
