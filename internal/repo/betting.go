package repo

import (
	"fmt"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

// PayoffSource fornece os dividendos oficiais para confirmação de
// liquidação (em replay, o próprio dataset; em live, o feed persistido).
type PayoffSource interface {
	Payoffs(raceID string) []model.Payoff
}

// PaperBettingRepository simula o broker: aceita apostas válidas sem tocar
// dinheiro real e confirma liquidações com os payoffs do dataset.
type PaperBettingRepository struct {
	source        PayoffSource
	maxStakeCents int64 // limite por aposta imposto pelo "broker"; 0 = sem limite
}

// NewPaperBetting cria o repositório paper sobre a fonte de payoffs.
func NewPaperBetting(source PayoffSource, maxStakeCents int64) *PaperBettingRepository {
	return &PaperBettingRepository{source: source, maxStakeCents: maxStakeCents}
}

// Submit aceita a aposta, exceto quando o stake fura o limite do broker.
func (r *PaperBettingRepository) Submit(bet *model.Bet) (bool, string, error) {
	if r.maxStakeCents > 0 && bet.StakeCents > r.maxStakeCents {
		return false, fmt.Sprintf("stake %d above broker limit %d", bet.StakeCents, r.maxStakeCents), nil
	}
	return true, "", nil
}

// ConfirmSettlement devolve os payoffs oficiais da corrida.
func (r *PaperBettingRepository) ConfirmSettlement(raceID string, _ *model.FinishOrder) ([]model.Payoff, error) {
	return r.source.Payoffs(raceID), nil
}
