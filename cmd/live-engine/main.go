package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/feed"
	"github.com/radieske/keiba-engine-poc/internal/portfolio"
	"github.com/radieske/keiba-engine-poc/internal/repo"
	"github.com/radieske/keiba-engine-poc/internal/settlement"
	"github.com/radieske/keiba-engine-poc/internal/shared/cache"
	"github.com/radieske/keiba-engine-poc/internal/shared/config"
	"github.com/radieske/keiba-engine-poc/internal/shared/db"
	skafka "github.com/radieske/keiba-engine-poc/internal/shared/kafka"
	"github.com/radieske/keiba-engine-poc/internal/shared/logger"
	"github.com/radieske/keiba-engine-poc/internal/shared/metrics"
	"github.com/radieske/keiba-engine-poc/internal/strategy"
)

// Métricas Prometheus do engine live
var (
	feedConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_feed_consumed_total",
		Help: "Mensagens do feed consumidas, por tópico",
	}, []string{"topic"})
	feedErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_feed_errors_total",
		Help: "Erros do consumo do feed, por fase",
	}, []string{"stage"})
	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_events_dropped_total",
		Help: "Eventos descartados da fila de ingestão por backpressure",
	})
	betsPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_bets_placed_total",
		Help: "Apostas submetidas, por desfecho de aceitação",
	}, []string{"outcome"})
	racesSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_races_settled_total",
		Help: "Corridas liquidadas",
	})
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(feedConsumed, feedErrors, eventsDropped, betsPlaced, racesSettled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect failed", zap.Error(err))
	}
	defer rdb.Close()

	// Fila de ingestão: drop-oldest sob backpressure, o engine nunca bloqueia o consumer
	queue := engine.NewIngestQueue(cfg.QueueCapacity)
	queue.OnDrop(func(ev *engine.DataEvent) {
		eventsDropped.Inc()
		log.Warn("ingest queue full, event dropped",
			zap.String("type", string(ev.Type)),
			zap.String("race_id", ev.RaceID))
	})

	oddsCache := repo.NewOddsCache(rdb, 24*time.Hour)
	live := repo.NewLive(queue, oddsCache, repo.NewPostgres(pg))

	// Consumidores Kafka do feed
	brokers := cfg.Brokers()
	consumer := &feed.Consumer{
		Log:        log,
		Cards:      skafka.NewReader(brokers, cfg.TopicRaceCards, "live-engine"),
		Odds:       skafka.NewReader(brokers, cfg.TopicOddsUpdates, "live-engine"),
		Results:    skafka.NewReader(brokers, cfg.TopicRaceResults, "live-engine"),
		Live:       live,
		Cache:      oddsCache,
		OnConsumed: func(topic string) { feedConsumed.WithLabelValues(topic).Inc() },
		OnError:    func(stage string) { feedErrors.WithLabelValues(stage).Inc() },
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("feed consumer stopped", zap.Error(err))
		}
	}()

	betting := repo.NewPaperBetting(live, cfg.MaxStakeCents)
	pf := portfolio.New(cfg.InitialBalanceCents).
		WithSink(repo.NewSettlementLog(pg))

	policy := settlement.DefaultPolicy()
	if rules, err := settlement.ParsePlaceRules(cfg.PlaceThresholds); err != nil {
		log.Warn("invalid PLACE_THRESHOLDS, using defaults", zap.Error(err))
	} else {
		policy.PlaceRules = rules
	}

	eng := engine.New(engine.Config{
		Live:          true,
		MaxStakeCents: cfg.MaxStakeCents,
		PollTimeout:   cfg.PollTimeout,
		Policy:        policy,
		Hooks: engine.Hooks{
			OnBet: func(accepted bool) {
				outcome := "accepted"
				if !accepted {
					outcome = "rejected"
				}
				betsPlaced.WithLabelValues(outcome).Inc()
			},
			OnSettlement: func(raceID string) { racesSettled.Inc() },
			OnStrategyError: func(where string, recovered any) {
				log.Error("strategy panic recovered",
					zap.String("where", where),
					zap.Any("panic", recovered))
			},
		},
	}, log, engine.WallClock{}, live, betting, pf)

	// Publica cada posição liquidada no tópico bet_settled
	settledPub := feed.NewPublisher(brokers, cfg.TopicBetSettled, log)
	defer settledPub.Close()
	eng.Bus().Subscribe(engine.KindResult, func(ev engine.Event) {
		res, ok := ev.(*engine.ResultEvent)
		if !ok {
			return
		}
		for _, pos := range res.Positions {
			msg := feed.SettledFromPosition(pos)
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := settledPub.Publish(pubCtx, pos.RaceID, msg); err != nil {
				log.Error("failed to publish settlement", zap.String("bet_id", pos.BetID), zap.Error(err))
			}
			pubCancel()
		}
	})

	// Metrics e health: /healthz verifica a conexão com o Postgres
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})
	defer metricsSrv.Close()
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	strat := buildStrategy(cfg, log)
	log.Info("live engine starting", zap.String("strategy", cfg.Strategy))

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, strat) }()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutdown signal received")
		eng.Stop()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				log.Error("engine stopped with error", zap.Error(err))
			}
		case <-time.After(10 * time.Second):
			log.Warn("engine did not drain in time")
		}
	case err := <-done:
		if err != nil {
			log.Fatal("engine stopped", zap.Error(err))
		}
	}
}

// buildStrategy resolve a estratégia pelo nome configurado.
func buildStrategy(cfg config.Config, log *zap.Logger) engine.Strategy {
	switch cfg.Strategy {
	case "value_betting":
		return strategy.NewValueBetting(log, cfg.StakeCents, cfg.EdgeThreshold)
	case "naive_favorite":
		return strategy.NewNaiveFavorite(log, cfg.StakeCents)
	default:
		log.Warn("unknown strategy, falling back to naive_favorite",
			zap.String("strategy", cfg.Strategy))
		return strategy.NewNaiveFavorite(log, cfg.StakeCents)
	}
}
