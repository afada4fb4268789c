package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/analytics"
	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/portfolio"
	"github.com/radieske/keiba-engine-poc/internal/repo"
	"github.com/radieske/keiba-engine-poc/internal/settlement"
	"github.com/radieske/keiba-engine-poc/internal/shared/config"
	"github.com/radieske/keiba-engine-poc/internal/shared/db"
	"github.com/radieske/keiba-engine-poc/internal/shared/logger"
	"github.com/radieske/keiba-engine-poc/internal/strategy"
)

// Métricas Prometheus do backtest
var (
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_events_processed_total",
		Help: "Eventos processados pelo engine, por tipo",
	}, []string{"kind"})
	betsPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_bets_placed_total",
		Help: "Apostas submetidas, por desfecho de aceitação",
	}, []string{"outcome"})
	racesSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_races_settled_total",
		Help: "Corridas liquidadas",
	})
	strategyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backtest_strategy_errors_total",
		Help: "Panics de estratégia recuperados",
	})
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(eventsProcessed, betsPlaced, racesSettled, strategyErrors)

	// Metrics e health (útil em execuções longas de backtest)
	if cfg.MetricsPort != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			addr := fmt.Sprintf(":%s", cfg.MetricsPort)
			log.Info("metrics/health listening", zap.String("addr", addr))
			_ = http.ListenAndServe(addr, mux)
		}()
	}

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pg.Close()

	from, to := cfg.BacktestFrom, cfg.BacktestTo
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(-1, 0, 0) // último ano por padrão
	}

	ctx := context.Background()
	store := repo.NewPostgres(pg)

	races, err := store.ListRaces(ctx, from, to)
	if err != nil {
		log.Fatal("failed to load races", zap.Error(err))
	}
	finishes, err := store.ListFinishOrders(ctx, from, to)
	if err != nil {
		log.Fatal("failed to load finish orders", zap.Error(err))
	}
	payoffs, err := store.ListPayoffs(ctx, from, to)
	if err != nil {
		log.Fatal("failed to load payoffs", zap.Error(err))
	}
	log.Info("dataset loaded",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("races", len(races)),
		zap.Int("results", len(finishes)),
		zap.Int("payoffs", len(payoffs)))

	replay := repo.NewReplay(repo.ReplayConfig{}, races, finishes, payoffs)
	betting := repo.NewPaperBetting(replay, cfg.MaxStakeCents)
	pf := portfolio.New(cfg.InitialBalanceCents).
		WithSink(repo.NewSettlementLog(pg))

	policy := settlement.DefaultPolicy()
	if rules, err := settlement.ParsePlaceRules(cfg.PlaceThresholds); err != nil {
		log.Warn("invalid PLACE_THRESHOLDS, using defaults", zap.Error(err))
	} else {
		policy.PlaceRules = rules
	}

	eng := engine.New(engine.Config{
		MaxStakeCents: cfg.MaxStakeCents,
		Policy:        policy,
		Hooks: engine.Hooks{
			OnEvent: func(kind string) { eventsProcessed.WithLabelValues(kind).Inc() },
			OnBet: func(accepted bool) {
				outcome := "accepted"
				if !accepted {
					outcome = "rejected"
				}
				betsPlaced.WithLabelValues(outcome).Inc()
			},
			OnSettlement: func(raceID string) { racesSettled.Inc() },
			OnStrategyError: func(where string, recovered any) {
				strategyErrors.Inc()
				log.Error("strategy panic recovered",
					zap.String("where", where),
					zap.Any("panic", recovered))
			},
		},
	}, log, engine.NewSimulatedClock(replay.Start()), replay, betting, pf)

	strat := buildStrategy(cfg, log)
	log.Info("backtest starting", zap.String("strategy", cfg.Strategy))

	start := time.Now()
	if err := eng.Run(ctx, strat); err != nil {
		log.Fatal("backtest failed", zap.Error(err))
	}

	report := analytics.Generate(pf.Positions())
	report.Log(log)
	log.Info("backtest finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("final_balance_cents", pf.RawBalance()))
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
