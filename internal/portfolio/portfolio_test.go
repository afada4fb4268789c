package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

func newBet(id, raceID string, stakeCents int64) model.Bet {
	return model.Bet{
		BetID:      id,
		RaceID:     raceID,
		BetType:    model.Win,
		Selection:  []string{"H1"},
		StakeCents: stakeCents,
		PlacedAt:   time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		State:      model.BetRequested,
	}
}

func TestReserveHoldsStake(t *testing.T) {
	p := New(10000)

	require.NoError(t, p.Reserve(newBet("B1", "R1", 3000)))

	assert.Equal(t, int64(7000), p.Balance())
	assert.Equal(t, int64(10000), p.RawBalance())
	assert.Equal(t, int64(3000), p.Reserved())

	pos, ok := p.Position("B1")
	require.True(t, ok)
	assert.Equal(t, model.BetAccepted, pos.State)
}

func TestReserveInsufficientFunds(t *testing.T) {
	p := New(5000)

	require.NoError(t, p.Reserve(newBet("B1", "R1", 4000)))
	err := p.Reserve(newBet("B2", "R1", 2000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// aposta rejeitada não deixa rastro
	_, ok := p.Position("B2")
	assert.False(t, ok)
	assert.Len(t, p.Ledger(), 1)
}

func TestReserveRejectsNonPositiveStake(t *testing.T) {
	p := New(5000)
	assert.Error(t, p.Reserve(newBet("B1", "R1", 0)))
	assert.Error(t, p.Reserve(newBet("B2", "R1", -100)))
}

func TestApplySettlementMatched(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))

	at := time.Date(2025, 6, 1, 15, 10, 0, 0, time.UTC)
	err := p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetMatched, PayoutCents: 3200},
	}, at)
	require.NoError(t, err)

	// 10000 − 1000 + 3200
	assert.Equal(t, int64(12200), p.RawBalance())
	assert.Zero(t, p.Reserved())

	pos, _ := p.Position("B1")
	assert.True(t, pos.Matched)
	assert.Equal(t, int64(3200), pos.PayoutCents)
	assert.Equal(t, at, pos.SettledAt)
}

func TestApplySettlementUnmatchedDebitsStake(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))

	err := p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetUnmatched},
	}, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, int64(9000), p.RawBalance())
	assert.Zero(t, p.Reserved())
}

func TestApplySettlementVoidedRefunds(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))

	err := p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetVoided},
	}, time.Now().UTC())
	require.NoError(t, err)

	// reembolso: saldo volta ao inicial
	assert.Equal(t, int64(10000), p.RawBalance())
	assert.Equal(t, int64(10000), p.Balance())
}

func TestApplySettlementIdempotent(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))

	results := []SettledBet{{BetID: "B1", State: model.BetMatched, PayoutCents: 2000}}
	at := time.Now().UTC()
	require.NoError(t, p.ApplySettlement("R1", results, at))
	before := p.RawBalance()
	ledgerLen := len(p.Ledger())

	// reaplicar a mesma corrida não altera nada
	require.NoError(t, p.ApplySettlement("R1", results, at))
	assert.Equal(t, before, p.RawBalance())
	assert.Len(t, p.Ledger(), ledgerLen)
}

func TestApplySettlementAtomicValidation(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))

	// lote com aposta desconhecida: nada é aplicado
	err := p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetMatched, PayoutCents: 2000},
		{BetID: "B9", State: model.BetUnmatched},
	}, time.Now().UTC())
	require.ErrorIs(t, err, ErrUnknownBet)

	assert.Equal(t, int64(10000), p.RawBalance())
	assert.Equal(t, int64(1000), p.Reserved())
	assert.False(t, p.Settled("R1"))

	pos, _ := p.Position("B1")
	assert.Equal(t, model.BetAccepted, pos.State)
}

func TestBalanceConservation(t *testing.T) {
	p := New(100000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 5000)))
	require.NoError(t, p.Reserve(newBet("B2", "R1", 3000)))
	require.NoError(t, p.Reserve(newBet("B3", "R1", 2000)))

	err := p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetMatched, PayoutCents: 16000},
		{BetID: "B2", State: model.BetUnmatched},
		{BetID: "B3", State: model.BetVoided},
	}, time.Now().UTC())
	require.NoError(t, err)

	// Δ = payouts − stakes liquidados (voided devolve o stake)
	// 100000 − 5000 + 16000 − 3000 = 108000
	assert.Equal(t, int64(108000), p.RawBalance())
	assert.Zero(t, p.Reserved())
	assert.Equal(t, p.RawBalance(), p.Balance())
}

func TestPendingBetsSkipsSettled(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))
	require.NoError(t, p.Reserve(newBet("B2", "R2", 1000)))

	require.Len(t, p.PendingBets("R1"), 1)

	require.NoError(t, p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetUnmatched},
	}, time.Now().UTC()))

	assert.Empty(t, p.PendingBets("R1"))
	assert.Len(t, p.PendingBets("R2"), 1)
}

func TestLedgerSequenceAndOps(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))
	require.NoError(t, p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetMatched, PayoutCents: 2500},
	}, time.Now().UTC()))

	entries := p.Ledger()
	require.Len(t, entries, 3)
	assert.Equal(t, OpReserve, entries[0].Op)
	assert.Equal(t, OpDebit, entries[1].Op)
	assert.Equal(t, OpCredit, entries[2].Op)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

type collectingSink struct{ entries []LedgerEntry }

func (s *collectingSink) Append(e LedgerEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func TestSinkReceivesLedgerEntries(t *testing.T) {
	sink := &collectingSink{}
	p := New(10000).WithSink(sink)

	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))
	require.NoError(t, p.ApplySettlement("R1", []SettledBet{
		{BetID: "B1", State: model.BetVoided},
	}, time.Now().UTC()))

	require.Len(t, sink.entries, 2)
	assert.Equal(t, OpReserve, sink.entries[0].Op)
	assert.Equal(t, OpRefund, sink.entries[1].Op)
}

func TestPositionSnapshotIsCopy(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.Reserve(newBet("B1", "R1", 1000)))

	pos, _ := p.Position("B1")
	pos.Selection[0] = "H9"

	again, _ := p.Position("B1")
	assert.Equal(t, "H1", again.Selection[0])
}
