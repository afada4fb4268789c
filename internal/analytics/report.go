// Package analytics agrega posições liquidadas em KPIs de backtest.
package analytics

import (
	"sort"

	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

// Report resume o desempenho de uma execução.
// Valores monetários em cents; taxas como frações (0.0–1.0+).
type Report struct {
	TotalBets   int
	SettledBets int

	WinRate        float64
	ROI            float64
	AvgPayoutCents float64
	ProfitCents    int64

	MaxDrawdownCents   int64
	MaxConsecutiveWin  int
	MaxConsecutiveLoss int
}

// Generate calcula o relatório a partir das posições do portfólio.
// Posições são ordenadas por SettledAt (desempate por bet id) para que
// drawdown e streaks sejam determinísticos entre execuções.
func Generate(positions []model.Position) Report {
	var rep Report
	rep.TotalBets = len(positions)
	if len(positions) == 0 {
		return rep
	}

	settled := make([]model.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.State.Terminal() && pos.State != model.BetVoided {
			settled = append(settled, pos)
		}
	}
	sort.Slice(settled, func(i, j int) bool {
		if !settled[i].SettledAt.Equal(settled[j].SettledAt) {
			return settled[i].SettledAt.Before(settled[j].SettledAt)
		}
		return settled[i].BetID < settled[j].BetID
	})

	rep.SettledBets = len(settled)
	if len(settled) == 0 {
		return rep
	}

	var stake, payout int64
	var wins int
	var cumulative, peak, maxDrawdown int64
	curWin, curLoss := 0, 0

	for _, pos := range settled {
		profit := pos.PayoutCents - pos.StakeCents
		stake += pos.StakeCents
		payout += pos.PayoutCents

		won := pos.PayoutCents > pos.StakeCents
		if won {
			wins++
			curWin++
			curLoss = 0
		} else {
			curLoss++
			curWin = 0
		}
		if curWin > rep.MaxConsecutiveWin {
			rep.MaxConsecutiveWin = curWin
		}
		if curLoss > rep.MaxConsecutiveLoss {
			rep.MaxConsecutiveLoss = curLoss
		}

		cumulative += profit
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	rep.ProfitCents = payout - stake
	rep.MaxDrawdownCents = maxDrawdown
	rep.WinRate = float64(wins) / float64(len(settled))
	rep.AvgPayoutCents = float64(payout) / float64(len(settled))
	if stake > 0 {
		rep.ROI = float64(rep.ProfitCents) / float64(stake)
	}
	return rep
}

// Log emite o relatório como um único registro estruturado.
func (r Report) Log(log *zap.Logger) {
	log.Info("backtest report",
		zap.Int("total_bets", r.TotalBets),
		zap.Int("settled_bets", r.SettledBets),
		zap.Float64("win_rate", r.WinRate),
		zap.Float64("roi", r.ROI),
		zap.Float64("avg_payout_cents", r.AvgPayoutCents),
		zap.Int64("profit_cents", r.ProfitCents),
		zap.Int64("max_drawdown_cents", r.MaxDrawdownCents),
		zap.Int("max_consecutive_win", r.MaxConsecutiveWin),
		zap.Int("max_consecutive_loss", r.MaxConsecutiveLoss),
	)
}
