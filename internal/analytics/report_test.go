package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

func position(id string, state model.BetState, stake, payout int64, settledAt time.Time) model.Position {
	return model.Position{
		Bet: model.Bet{
			BetID:      id,
			RaceID:     "R1",
			BetType:    model.Win,
			Selection:  []string{"H1"},
			StakeCents: stake,
			State:      state,
		},
		Matched:     state == model.BetMatched,
		PayoutCents: payout,
		SettledAt:   settledAt,
	}
}

func TestGenerateEmpty(t *testing.T) {
	rep := Generate(nil)
	assert.Zero(t, rep.TotalBets)
	assert.Zero(t, rep.SettledBets)
	assert.Zero(t, rep.WinRate)
}

func TestGenerateKPIs(t *testing.T) {
	base := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	positions := []model.Position{
		position("B1", model.BetMatched, 10000, 32000, base),
		position("B2", model.BetUnmatched, 10000, 0, base.Add(time.Hour)),
		position("B3", model.BetUnmatched, 10000, 0, base.Add(2*time.Hour)),
		position("B4", model.BetMatched, 10000, 15000, base.Add(3*time.Hour)),
		position("B5", model.BetAccepted, 10000, 0, time.Time{}), // ainda pendente
	}

	rep := Generate(positions)
	assert.Equal(t, 5, rep.TotalBets)
	assert.Equal(t, 4, rep.SettledBets)
	assert.InDelta(t, 0.5, rep.WinRate, 1e-9)

	// lucro: +22000 −10000 −10000 +5000 = 7000; stake liquidado 40000
	assert.Equal(t, int64(7000), rep.ProfitCents)
	assert.InDelta(t, 0.175, rep.ROI, 1e-9)
	assert.InDelta(t, 11750.0, rep.AvgPayoutCents, 1e-9)

	// drawdown: pico 22000 após B1, vale 2000 após B3 → 20000
	assert.Equal(t, int64(20000), rep.MaxDrawdownCents)
	assert.Equal(t, 1, rep.MaxConsecutiveWin)
	assert.Equal(t, 2, rep.MaxConsecutiveLoss)
}

func TestGenerateVoidedExcluded(t *testing.T) {
	base := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	positions := []model.Position{
		position("B1", model.BetVoided, 5000, 0, base),
		position("B2", model.BetMatched, 1000, 3000, base),
	}

	// reembolso de scratch não conta como aposta liquidada para os KPIs
	rep := Generate(positions)
	assert.Equal(t, 1, rep.SettledBets)
	assert.Equal(t, int64(2000), rep.ProfitCents)
	assert.InDelta(t, 1.0, rep.WinRate, 1e-9)
}

func TestGenerateDeterministicOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	a := []model.Position{
		position("B1", model.BetMatched, 1000, 2000, base),
		position("B2", model.BetUnmatched, 1000, 0, base.Add(time.Hour)),
	}
	b := []model.Position{a[1], a[0]} // mesma carteira, ordem de snapshot diferente

	assert.Equal(t, Generate(a), Generate(b))
}
