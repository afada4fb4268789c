package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownBet        = errors.New("unknown bet")
	ErrNotPending        = errors.New("bet is not pending settlement")
)

// LedgerOp identifica a operação registrada no ledger append-only.
type LedgerOp string

const (
	OpReserve LedgerOp = "RESERVE"
	OpDebit   LedgerOp = "DEBIT"
	OpCredit  LedgerOp = "CREDIT"
	OpRefund  LedgerOp = "REFUND"
)

// LedgerEntry é uma linha do ledger de liquidações.
type LedgerEntry struct {
	Seq         int64
	Op          LedgerOp
	BetID       string
	RaceID      string
	AmountCents int64
	At          time.Time
	Description string
}

// Sink recebe cada entrada do ledger para persistência externa (auditoria).
// Falha do sink não desfaz a mutação em memória; é logada pelo chamador.
type Sink interface {
	Append(entry LedgerEntry) error
}

// SettledBet é o resultado de liquidação de uma aposta, pronto para aplicar.
type SettledBet struct {
	BetID       string
	State       model.BetState
	PayoutCents int64
}

// Portfolio é o ledger de bankroll e posições. Escritor único: somente o
// engine, dentro do loop, muta o estado; leitores recebem snapshots.
type Portfolio struct {
	mu            sync.RWMutex
	balanceCents  int64
	reservedCents int64
	positions     map[string]*model.Position
	pendingByRace map[string][]string
	settledRaces  map[string]bool
	ledger        []LedgerEntry
	sink          Sink
	seq           int64
}

// New cria um portfolio com o bankroll inicial em centavos.
func New(initialCents int64) *Portfolio {
	return &Portfolio{
		balanceCents:  initialCents,
		positions:     make(map[string]*model.Position),
		pendingByRace: make(map[string][]string),
		settledRaces:  make(map[string]bool),
	}
}

// WithSink conecta um destino externo para as entradas do ledger.
func (p *Portfolio) WithSink(sink Sink) *Portfolio {
	p.sink = sink
	return p
}

// Reserve aceita uma aposta, reservando o stake do saldo disponível.
// Aposta com fundos insuficientes é rejeitada sem tocar o ledger.
func (p *Portfolio) Reserve(bet model.Bet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if bet.StakeCents <= 0 {
		return fmt.Errorf("stake must be positive, got %d", bet.StakeCents)
	}
	if p.balanceCents-p.reservedCents < bet.StakeCents {
		return ErrInsufficientFunds
	}

	bet.State = model.BetAccepted
	pos := &model.Position{Bet: bet}
	p.reservedCents += bet.StakeCents
	p.positions[bet.BetID] = pos
	p.pendingByRace[bet.RaceID] = append(p.pendingByRace[bet.RaceID], bet.BetID)
	p.append(LedgerEntry{
		Op:          OpReserve,
		BetID:       bet.BetID,
		RaceID:      bet.RaceID,
		AmountCents: bet.StakeCents,
		At:          bet.PlacedAt,
		Description: "reserve:" + bet.BetID,
	})
	return nil
}

// PendingBets retorna cópias das apostas aceitas e ainda não liquidadas
// para a corrida.
func (p *Portfolio) PendingBets(raceID string) []model.Bet {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := p.pendingByRace[raceID]
	bets := make([]model.Bet, 0, len(ids))
	for _, id := range ids {
		if pos, ok := p.positions[id]; ok && pos.State == model.BetAccepted {
			bets = append(bets, copyBet(pos.Bet))
		}
	}
	return bets
}

// ApplySettlement aplica os resultados de uma corrida de forma atômica:
// libera a reserva, credita payouts, transiciona as posições e grava o
// ledger — tudo ou nada. Idempotente por corrida: reaplicar não altera saldo.
func (p *Portfolio) ApplySettlement(raceID string, results []SettledBet, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settledRaces[raceID] {
		return nil
	}

	// valida tudo antes de mutar qualquer coisa
	for _, r := range results {
		pos, ok := p.positions[r.BetID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBet, r.BetID)
		}
		if pos.State != model.BetAccepted {
			return fmt.Errorf("%w: %s state=%s", ErrNotPending, r.BetID, pos.State)
		}
	}

	for _, r := range results {
		pos := p.positions[r.BetID]
		stake := pos.StakeCents
		p.reservedCents -= stake

		switch r.State {
		case model.BetMatched:
			p.balanceCents += r.PayoutCents - stake
			p.append(LedgerEntry{Op: OpDebit, BetID: r.BetID, RaceID: raceID, AmountCents: stake, At: at, Description: "stake:" + r.BetID})
			p.append(LedgerEntry{Op: OpCredit, BetID: r.BetID, RaceID: raceID, AmountCents: r.PayoutCents, At: at, Description: "payout:" + r.BetID})
		case model.BetVoided:
			// reembolso de scratch: reserva liberada, saldo intocado
			p.append(LedgerEntry{Op: OpRefund, BetID: r.BetID, RaceID: raceID, AmountCents: stake, At: at, Description: "scratch-refund:" + r.BetID})
		default:
			p.balanceCents -= stake
			p.append(LedgerEntry{Op: OpDebit, BetID: r.BetID, RaceID: raceID, AmountCents: stake, At: at, Description: "stake:" + r.BetID})
		}

		pos.State = r.State
		pos.Matched = r.State == model.BetMatched
		pos.PayoutCents = r.PayoutCents
		pos.SettledAt = at
	}

	p.settledRaces[raceID] = true
	delete(p.pendingByRace, raceID)
	return nil
}

// Settled informa se a corrida já foi liquidada neste portfolio.
func (p *Portfolio) Settled(raceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settledRaces[raceID]
}

// Balance retorna o saldo disponível (balance − reserved).
func (p *Portfolio) Balance() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balanceCents - p.reservedCents
}

// RawBalance retorna o saldo bruto, ignorando reservas pendentes.
func (p *Portfolio) RawBalance() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balanceCents
}

// Reserved retorna a soma dos stakes pendentes.
func (p *Portfolio) Reserved() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reservedCents
}

// Positions retorna um snapshot (cópia) de todas as posições.
func (p *Portfolio) Positions() []model.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, copyPosition(*pos))
	}
	return out
}

// Position retorna o snapshot de uma posição pelo bet id.
func (p *Portfolio) Position(betID string) (model.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[betID]
	if !ok {
		return model.Position{}, false
	}
	return copyPosition(*pos), true
}

// Ledger retorna uma cópia do ledger append-only.
func (p *Portfolio) Ledger() []LedgerEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]LedgerEntry, len(p.ledger))
	copy(out, p.ledger)
	return out
}

func (p *Portfolio) append(entry LedgerEntry) {
	p.seq++
	entry.Seq = p.seq
	p.ledger = append(p.ledger, entry)
	if p.sink != nil {
		// melhor esforço: o ledger em memória é a fonte de verdade do run
		_ = p.sink.Append(entry)
	}
}

func copyBet(b model.Bet) model.Bet {
	sel := make([]string, len(b.Selection))
	copy(sel, b.Selection)
	b.Selection = sel
	return b
}

func copyPosition(pos model.Position) model.Position {
	pos.Bet = copyBet(pos.Bet)
	return pos
}
