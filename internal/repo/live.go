package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
)

// LiveDataRepository espelha o feed assíncrono para o loop único do engine:
// o consumer Kafka empurra eventos na fila limitada; o engine drena a cada
// tick, sem nunca bloquear além do poll timeout.
type LiveDataRepository struct {
	queue *engine.IngestQueue
	cache *OddsCache // odds correntes em Redis; opcional
	pg    *Postgres  // histórico; opcional

	mu       sync.RWMutex
	races    map[string]*model.Race
	payoffs  map[string][]model.Payoff
}

// NewLive cria o repositório live sobre a fila de ingestão.
func NewLive(queue *engine.IngestQueue, cache *OddsCache, pg *Postgres) *LiveDataRepository {
	return &LiveDataRepository{
		queue:   queue,
		cache:   cache,
		pg:      pg,
		races:   make(map[string]*model.Race),
		payoffs: make(map[string][]model.Payoff),
	}
}

// Queue expõe a fila para o consumer do feed.
func (r *LiveDataRepository) Queue() *engine.IngestQueue { return r.queue }

// Ingest registra o evento vindo do feed e o enfileira para o engine.
// Executa na goroutine do consumer; nunca bloqueia.
func (r *LiveDataRepository) Ingest(ev *engine.DataEvent) {
	if ev.Type == engine.DataRace && ev.Race != nil {
		r.mu.Lock()
		r.races[ev.RaceID] = ev.Race
		r.mu.Unlock()
	}
	r.queue.Push(ev)
}

// RecordPayoffs guarda os dividendos recebidos do feed para a confirmação
// de liquidação.
func (r *LiveDataRepository) RecordPayoffs(raceID string, payoffs []model.Payoff) {
	r.mu.Lock()
	r.payoffs[raceID] = payoffs
	r.mu.Unlock()
}

// Payoffs implementa PayoffSource para o betting repository paper.
func (r *LiveDataRepository) Payoffs(raceID string) []model.Payoff {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.payoffs[raceID]
}

// PollNext checa o buffer do feed sem bloquear.
func (r *LiveDataRepository) PollNext() (*engine.DataEvent, bool, error) {
	ev, ok := r.queue.Pop()
	return ev, ok, nil
}

// WaitNext espera por dados até o timeout — implementa engine.FeedWaiter.
func (r *LiveDataRepository) WaitNext(timeout time.Duration) bool {
	return r.queue.Wait(timeout)
}

// LoadRace devolve o cartão recebido do feed.
func (r *LiveDataRepository) LoadRace(raceID string) (*model.Race, error) {
	r.mu.RLock()
	race, ok := r.races[raceID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("race %s not seen on feed", raceID)
	}
	return race, nil
}

// LoadOdds lê as odds correntes do cache Redis.
func (r *LiveDataRepository) LoadOdds(raceID string) (map[model.BetType]map[string]float64, error) {
	if r.cache == nil {
		return map[model.BetType]map[string]float64{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out := make(map[model.BetType]map[string]float64)
	for _, bt := range []model.BetType{
		model.Win, model.Place, model.BracketQuinella, model.Quinella,
		model.Exacta, model.QuinellaPlace, model.TrifectaBox, model.TrifectaExact,
	} {
		odds, err := r.cache.RaceOdds(ctx, raceID, bt)
		if err != nil {
			return nil, fmt.Errorf("load odds %s/%s: %w", raceID, bt, err)
		}
		if len(odds) > 0 {
			out[bt] = odds
		}
	}
	return out, nil
}

// History consulta o histórico persistido; sem Postgres conectado devolve
// cursor vazio.
func (r *LiveDataRepository) History(horseID string) (engine.HistoryCursor, error) {
	if r.pg == nil {
		return &sliceCursor{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.pg.History(ctx, horseID)
}
