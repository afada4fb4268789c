package feed

import (
	"fmt"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
	"github.com/radieske/keiba-engine-poc/pkg/contracts/events"
)

// RaceFromCard converte o cartão do contrato para o modelo interno.
// Odds com bet_type desconhecido são descartadas silenciosamente.
func RaceFromCard(c *events.RaceCard) *model.Race {
	race := &model.Race{
		RaceID:   c.RaceID,
		Date:     c.Date.UTC(),
		Course:   c.Course,
		Distance: c.Distance,
		Ground:   c.Ground,
		Weather:  c.Weather,
		Horses:   make([]model.HorseEntry, 0, len(c.Horses)),
	}
	for _, h := range c.Horses {
		entry := model.HorseEntry{
			RaceID:  c.RaceID,
			HorseID: h.HorseID,
			Name:    h.Name,
			Jockey:  h.Jockey,
			Trainer: h.Trainer,
			Draw:    h.Draw,
			Odds:    make(map[model.BetType]float64, len(h.Odds)),
		}
		for raw, odds := range h.Odds {
			if bt, ok := model.CanonicalBetType(raw); ok {
				entry.Odds[bt] = odds
			}
		}
		race.Horses = append(race.Horses, entry)
	}
	return race
}

// OddsFromContract converte uma atualização de odds do contrato.
func OddsFromContract(u *events.OddsUpdate) (*engine.OddsUpdate, error) {
	bt, ok := model.CanonicalBetType(u.BetType)
	if !ok {
		return nil, fmt.Errorf("unknown bet type %q", u.BetType)
	}
	return &engine.OddsUpdate{
		RaceID:  u.RaceID,
		HorseID: u.HorseID,
		BetType: bt,
		Odds:    u.Odds,
	}, nil
}

// ResultFromContract converte o resultado oficial: ordem de chegada
// mais a lista de dividendos no modelo interno.
func ResultFromContract(r *events.RaceResult) (*model.FinishOrder, []model.Payoff, error) {
	finish := &model.FinishOrder{
		RaceID:    r.RaceID,
		Ranking:   append([]string(nil), r.Ranking...),
		Scratched: append([]string(nil), r.Scratched...),
	}
	payoffs := make([]model.Payoff, 0, len(r.Payoffs))
	for _, p := range r.Payoffs {
		bt, ok := model.CanonicalBetType(p.BetType)
		if !ok {
			return nil, nil, fmt.Errorf("unknown bet type %q in payoff", p.BetType)
		}
		payoffs = append(payoffs, model.Payoff{
			RaceID:      r.RaceID,
			BetType:     bt,
			Combination: append([]string(nil), p.Combination...),
			Odds:        p.Odds,
			PayoutCents: p.PayoutCents,
		})
	}
	return finish, payoffs, nil
}

// SettledFromPosition monta o evento de liquidação publicado pelo engine.
func SettledFromPosition(pos model.Position) events.BetSettled {
	return events.BetSettled{
		BetID:       pos.BetID,
		RaceID:      pos.RaceID,
		BetType:     string(pos.BetType),
		Selection:   append([]string(nil), pos.Selection...),
		StakeCents:  pos.StakeCents,
		PayoutCents: pos.PayoutCents,
		State:       string(pos.State),
		SettledAt:   pos.SettledAt,
	}
}
