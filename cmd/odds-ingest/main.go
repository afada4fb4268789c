package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/feed"
	"github.com/radieske/keiba-engine-poc/internal/shared/config"
	"github.com/radieske/keiba-engine-poc/internal/shared/logger"
)

// Métricas Prometheus da ingestão
var (
	feedIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_feed_messages_total",
		Help: "Mensagens do fornecedor republicadas no Kafka, por tipo",
	}, []string{"kind"})
	ingestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Erros de ingestão, por fase",
	}, []string{"stage"})
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(feedIngested, ingestErrors)

	log.Info("Kafka brokers", zap.String("brokers", cfg.KafkaBrokers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokers := cfg.Brokers()

	// Um publisher por tópico do feed
	oddsPub := feed.NewPublisher(brokers, cfg.TopicOddsUpdates, log)
	defer oddsPub.Close()
	cardsPub := feed.NewPublisher(brokers, cfg.TopicRaceCards, log)
	defer cardsPub.Close()
	resultsPub := feed.NewPublisher(brokers, cfg.TopicRaceResults, log)
	defer resultsPub.Close()

	// WS Client
	wsClient := &feed.WSClient{
		URL:        cfg.SupplierWSURL,
		Log:        log,
		Odds:       oddsPub,
		Cards:      cardsPub,
		Results:    resultsPub,
		OnIngested: func(kind string) { feedIngested.WithLabelValues(kind).Inc() },
		OnError:    func(stage string) { ingestErrors.WithLabelValues(stage).Inc() },
	}
	go wsClient.Start(ctx)

	// Metrics e health
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

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")
	cancel()
	time.Sleep(2 * time.Second)
}
