package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/repo"
	"github.com/radieske/keiba-engine-poc/pkg/contracts/events"
)

// Consumer consome os tópicos do feed e alimenta o repositório live do engine
// Callbacks de métricas podem ser usadas para monitoramento de cada etapa
type Consumer struct {
	Log     *zap.Logger
	Cards   *kafka.Reader
	Odds    *kafka.Reader
	Results *kafka.Reader

	Live  *repo.LiveDataRepository
	Cache *repo.OddsCache

	OnConsumed func(topic string) // métricas (counter++)
	OnError    func(string)       // métricas por fase
}

// Run inicia um loop de consumo por tópico e bloqueia até o contexto encerrar.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.readLoop(ctx, c.Cards, "race_cards", c.handleCard) }()
	go func() { defer wg.Done(); c.readLoop(ctx, c.Odds, "odds_updates", c.handleOdds) }()
	go func() { defer wg.Done(); c.readLoop(ctx, c.Results, "race_results", c.handleResult) }()
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) readLoop(ctx context.Context, r *kafka.Reader, topic string, handle func(context.Context, []byte) error) {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // encerra se o contexto for cancelado
			}
			c.Log.Warn("kafka read failed", zap.String("topic", topic), zap.Error(err))
			if c.OnError != nil {
				c.OnError("read")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if c.OnConsumed != nil {
			c.OnConsumed(topic) // callback de métrica: mensagem consumida
		}

		if err := handle(ctx, m.Value); err != nil {
			c.Log.Warn("message dropped", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// handleCard registra o cartão no repositório live e acorda o engine.
func (c *Consumer) handleCard(_ context.Context, value []byte) error {
	var card events.RaceCard
	if err := json.Unmarshal(value, &card); err != nil {
		if c.OnError != nil {
			c.OnError("decode")
		}
		return err
	}

	race := RaceFromCard(&card)
	c.Live.Ingest(&engine.DataEvent{
		Type:        engine.DataRace,
		RaceID:      race.RaceID,
		Race:        race,
		AvailableAt: card.PublishedAt.UTC(),
	})
	return nil
}

// handleOdds atualiza o cache Redis e encaminha o evento ao engine.
func (c *Consumer) handleOdds(ctx context.Context, value []byte) error {
	var update events.OddsUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		if c.OnError != nil {
			c.OnError("decode")
		}
		return err
	}

	odds, err := OddsFromContract(&update)
	if err != nil {
		if c.OnError != nil {
			c.OnError("convert")
		}
		return err
	}

	// Atualiza cache Redis com a odd atual
	if c.Cache != nil {
		if err := c.Cache.SetCurrent(ctx, odds.RaceID, odds.BetType, odds.HorseID, odds.Odds); err != nil {
			c.Log.Warn("redis set failed", zap.Error(err))
			if c.OnError != nil {
				c.OnError("cache")
			}
			// não bloqueia o encaminhamento se falhar o cache
		}
	}

	c.Live.Ingest(&engine.DataEvent{
		Type:        engine.DataOdds,
		RaceID:      odds.RaceID,
		Odds:        odds,
		AvailableAt: update.UpdatedAt.UTC(),
	})
	return nil
}

// handleResult registra os dividendos antes de encaminhar a chegada,
// garantindo que a liquidação encontre os payoffs ao processar o evento.
func (c *Consumer) handleResult(_ context.Context, value []byte) error {
	var result events.RaceResult
	if err := json.Unmarshal(value, &result); err != nil {
		if c.OnError != nil {
			c.OnError("decode")
		}
		return err
	}

	finish, payoffs, err := ResultFromContract(&result)
	if err != nil {
		if c.OnError != nil {
			c.OnError("convert")
		}
		return err
	}

	c.Live.RecordPayoffs(result.RaceID, payoffs)
	c.Live.Ingest(&engine.DataEvent{
		Type:        engine.DataResult,
		RaceID:      result.RaceID,
		Finish:      finish,
		AvailableAt: result.PublishedAt.UTC(),
	})
	return nil
}
