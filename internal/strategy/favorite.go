// Package strategy contém as estratégias de aposta embutidas.
package strategy

import (
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
)

// NaiveFavorite aposta win no cavalo de menor odd de cada corrida publicada.
type NaiveFavorite struct {
	engine.Base

	Log        *zap.Logger
	StakeCents int64
}

// NewNaiveFavorite cria a estratégia com stake fixo por corrida.
func NewNaiveFavorite(log *zap.Logger, stakeCents int64) *NaiveFavorite {
	if stakeCents <= 0 {
		stakeCents = 10000 // 100.00 por corrida
	}
	return &NaiveFavorite{Log: log, StakeCents: stakeCents}
}

// OnData submete uma aposta no favorito sempre que um cartão chega.
func (s *NaiveFavorite) OnData(e *engine.Engine, ev *engine.DataEvent) {
	if ev.Type != engine.DataRace || ev.Race == nil {
		return
	}

	fav := findFavorite(ev.Race)
	if fav == "" {
		return
	}

	handle, err := e.PlaceBet(ev.RaceID, []string{fav}, s.StakeCents, model.Win)
	if err != nil {
		s.Log.Warn("bet rejected",
			zap.String("race_id", ev.RaceID),
			zap.String("horse_id", fav),
			zap.Error(err))
		return
	}
	s.Log.Info("backed favourite",
		zap.String("race_id", ev.RaceID),
		zap.String("horse_id", fav),
		zap.String("bet_id", handle.BetID))
}

// findFavorite retorna o cavalo com a menor odd de win disponível.
func findFavorite(race *model.Race) string {
	best := ""
	bestOdds := 0.0
	for _, h := range race.Horses {
		odds, ok := h.Odds[model.Win]
		if !ok || odds <= 0 {
			continue
		}
		if best == "" || odds < bestOdds {
			best = h.HorseID
			bestOdds = odds
		}
	}
	return best
}
