package strategy

import (
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
)

// ValueBetting aposta quando a taxa histórica de vitórias do cavalo implica
// valor esperado positivo frente à odd oferecida.
type ValueBetting struct {
	engine.Base

	Log           *zap.Logger
	StakeCents    int64
	EdgeThreshold float64 // valor esperado mínimo (win_rate × odds)

	winRates map[string]float64 // cache por cavalo dentro de uma execução
}

// NewValueBetting cria a estratégia com stake fixo e limiar de valor.
func NewValueBetting(log *zap.Logger, stakeCents int64, edge float64) *ValueBetting {
	if stakeCents <= 0 {
		stakeCents = 5000 // 50.00 por cavalo qualificado
	}
	if edge <= 0 {
		edge = 1.2
	}
	return &ValueBetting{
		Log:           log,
		StakeCents:    stakeCents,
		EdgeThreshold: edge,
		winRates:      make(map[string]float64),
	}
}

// OnData avalia cada cavalo do cartão e aposta nos que superam o limiar.
func (s *ValueBetting) OnData(e *engine.Engine, ev *engine.DataEvent) {
	if ev.Type != engine.DataRace || ev.Race == nil {
		return
	}

	for _, h := range ev.Race.Horses {
		odds, ok := h.Odds[model.Win]
		if !ok || odds <= 0 {
			continue
		}

		rate := s.winRate(e, h.HorseID)
		expected := rate * odds
		if expected < s.EdgeThreshold {
			continue
		}
		if e.GetBalance() < s.StakeCents {
			return // saldo esgotado, nada mais a fazer neste cartão
		}

		handle, err := e.PlaceBet(ev.RaceID, []string{h.HorseID}, s.StakeCents, model.Win)
		if err != nil {
			s.Log.Warn("bet rejected",
				zap.String("race_id", ev.RaceID),
				zap.String("horse_id", h.HorseID),
				zap.Error(err))
			continue
		}
		s.Log.Info("value bet placed",
			zap.String("race_id", ev.RaceID),
			zap.String("horse_id", h.HorseID),
			zap.Float64("expected_value", expected),
			zap.String("bet_id", handle.BetID))
	}
}

// winRate calcula a fração de corridas históricas vencidas pelo cavalo.
// Uma vitória é identificada pelo payoff de win com a combinação do cavalo.
func (s *ValueBetting) winRate(e *engine.Engine, horseID string) float64 {
	if rate, ok := s.winRates[horseID]; ok {
		return rate
	}

	cursor, err := e.GetHistorical(horseID)
	if err != nil {
		s.Log.Warn("history unavailable", zap.String("horse_id", horseID), zap.Error(err))
		s.winRates[horseID] = 0
		return 0
	}

	races, wins := 0, 0
	for {
		rec, ok := cursor.Next()
		if !ok {
			break
		}
		races++
		for _, p := range rec.Payoffs {
			if p.BetType == model.Win && len(p.Combination) == 1 && p.Combination[0] == horseID {
				wins++
				break
			}
		}
	}

	rate := 0.0
	if races > 0 {
		rate = float64(wins) / float64(races)
	}
	s.winRates[horseID] = rate
	return rate
}
