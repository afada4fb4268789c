package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/model"
	"github.com/radieske/keiba-engine-poc/internal/portfolio"
	"github.com/radieske/keiba-engine-poc/internal/settlement"
)

// ---- fakes de repositório ----

type fakeData struct {
	events []*DataEvent
	cursor int
	races  map[string]*model.Race
}

func (f *fakeData) PollNext() (*DataEvent, bool, error) {
	if f.cursor >= len(f.events) {
		return nil, false, nil
	}
	ev := f.events[f.cursor]
	f.cursor++
	return ev, true, nil
}

func (f *fakeData) LoadRace(raceID string) (*model.Race, error) {
	race, ok := f.races[raceID]
	if !ok {
		return nil, errors.New("race not found")
	}
	return race, nil
}

func (f *fakeData) LoadOdds(string) (map[model.BetType]map[string]float64, error) {
	return nil, nil
}

func (f *fakeData) History(string) (HistoryCursor, error) {
	return emptyCursor{}, nil
}

type emptyCursor struct{}

func (emptyCursor) Next() (HistoryRecord, bool) { return HistoryRecord{}, false }
func (emptyCursor) Reset()                      {}

type fakeBetting struct {
	payoffs map[string][]model.Payoff
	reject  string // motivo de rejeição do broker, vazio aceita
}

func (f *fakeBetting) Submit(*model.Bet) (bool, string, error) {
	if f.reject != "" {
		return false, f.reject, nil
	}
	return true, "", nil
}

func (f *fakeBetting) ConfirmSettlement(raceID string, _ *model.FinishOrder) ([]model.Payoff, error) {
	return f.payoffs[raceID], nil
}

// ---- estratégia de teste ----

type scriptedStrategy struct {
	Base
	onData   func(*Engine, *DataEvent)
	onTime   func(*Engine, *TimeEvent)
	onBet    func(*Engine, *BetEvent)
	onResult func(*Engine, *ResultEvent)
}

func (s *scriptedStrategy) OnData(e *Engine, ev *DataEvent) {
	if s.onData != nil {
		s.onData(e, ev)
	}
}
func (s *scriptedStrategy) OnTime(e *Engine, ev *TimeEvent) {
	if s.onTime != nil {
		s.onTime(e, ev)
	}
}
func (s *scriptedStrategy) OnBet(e *Engine, ev *BetEvent) {
	if s.onBet != nil {
		s.onBet(e, ev)
	}
}
func (s *scriptedStrategy) OnResult(e *Engine, ev *ResultEvent) {
	if s.onResult != nil {
		s.onResult(e, ev)
	}
}

// ---- dataset de referência ----

var raceStart = time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

func testRace() *model.Race {
	return &model.Race{
		RaceID: "R1",
		Date:   raceStart,
		Course: "Tokyo",
		Horses: []model.HorseEntry{
			{RaceID: "R1", HorseID: "H1", Draw: 1, Odds: map[model.BetType]float64{model.Win: 3.2}},
			{RaceID: "R1", HorseID: "H2", Draw: 2, Odds: map[model.BetType]float64{model.Win: 4.0}},
			{RaceID: "R1", HorseID: "H3", Draw: 3, Odds: map[model.BetType]float64{model.Win: 9.0}},
		},
	}
}

func testEvents(race *model.Race) []*DataEvent {
	return []*DataEvent{
		{Type: DataRace, RaceID: "R1", Race: race, AvailableAt: raceStart.Add(-time.Hour)},
		{
			Type: DataOdds, RaceID: "R1",
			Odds:        &OddsUpdate{RaceID: "R1", HorseID: "H1", BetType: model.Win, Odds: 3.5},
			AvailableAt: raceStart.Add(-30 * time.Minute),
		},
		{
			Type: DataResult, RaceID: "R1",
			Finish:      &model.FinishOrder{RaceID: "R1", Ranking: []string{"H1", "H2", "H3"}},
			AvailableAt: raceStart.Add(10 * time.Minute),
		},
	}
}

func newTestEngine(data *fakeData, betting *fakeBetting, initialCents int64) (*Engine, *portfolio.Portfolio) {
	pf := portfolio.New(initialCents)
	clock := NewSimulatedClock(data.events[0].AvailableAt)
	eng := New(Config{}, zap.NewNop(), clock, data, betting, pf)
	return eng, pf
}

func TestRunSettlesBetPlacedOnCard(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race), races: map[string]*model.Race{"R1": race}}
	betting := &fakeBetting{payoffs: map[string][]model.Payoff{
		"R1": {{RaceID: "R1", BetType: model.Win, Combination: []string{"H1"}, Odds: 3.2}},
	}}
	eng, pf := newTestEngine(data, betting, 100000)

	var handle *BetHandle
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type != DataRace {
				return
			}
			h, err := e.PlaceBet("R1", []string{"H1"}, 10000, model.Win)
			require.NoError(t, err)
			handle = h
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))

	require.NotNil(t, handle)
	assert.True(t, handle.Accepted)

	pos, ok := pf.Position(handle.BetID)
	require.True(t, ok)
	assert.Equal(t, model.BetMatched, pos.State)
	assert.Equal(t, int64(32000), pos.PayoutCents)
	// 100000 − 10000 + 32000
	assert.Equal(t, int64(122000), pf.RawBalance())
	assert.Zero(t, pf.Reserved())
}

func TestRunDeterministicReplay(t *testing.T) {
	run := func() ([]string, int64) {
		race := testRace()
		data := &fakeData{events: testEvents(race), races: map[string]*model.Race{"R1": race}}
		betting := &fakeBetting{payoffs: map[string][]model.Payoff{
			"R1": {{RaceID: "R1", BetType: model.Win, Combination: []string{"H1"}, Odds: 3.2}},
		}}
		eng, pf := newTestEngine(data, betting, 100000)

		var trace []string
		for _, kind := range []EventKind{KindData, KindTime, KindBet, KindResult} {
			kind := kind
			eng.Bus().Subscribe(kind, func(ev Event) {
				trace = append(trace, string(kind)+"@"+ev.At().Format(time.RFC3339))
			})
		}

		strat := &scriptedStrategy{
			onData: func(e *Engine, ev *DataEvent) {
				if ev.Type == DataRace {
					_, _ = e.PlaceBet("R1", []string{"H1"}, 5000, model.Win)
					_, _ = e.Schedule(raceStart.Add(-15*time.Minute), "pre-race", nil)
				}
			},
		}
		require.NoError(t, eng.Run(context.Background(), strat))
		return trace, pf.RawBalance()
	}

	trace1, balance1 := run()
	trace2, balance2 := run()
	assert.Equal(t, trace1, trace2)
	assert.Equal(t, balance1, balance2)
}

func TestTimerFiresBetweenEvents(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race), races: map[string]*model.Race{"R1": race}}
	eng, _ := newTestEngine(data, &fakeBetting{}, 100000)

	var timerAt time.Time
	fired := false
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type == DataRace {
				_, err := e.Schedule(raceStart.Add(-45*time.Minute), "check-odds", func() { fired = true })
				require.NoError(t, err)
			}
		},
		onTime: func(_ *Engine, ev *TimeEvent) { timerAt = ev.ScheduledFor },
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	assert.True(t, fired)
	assert.Equal(t, raceStart.Add(-45*time.Minute), timerAt)
}

func TestPlaceBetAfterStartRejected(t *testing.T) {
	race := testRace()
	events := []*DataEvent{
		{Type: DataRace, RaceID: "R1", Race: race, AvailableAt: raceStart.Add(-time.Hour)},
		{
			Type: DataOdds, RaceID: "R1",
			Odds:        &OddsUpdate{RaceID: "R1", HorseID: "H1", BetType: model.Win, Odds: 3.0},
			AvailableAt: raceStart.Add(time.Minute), // depois da largada
		},
	}
	data := &fakeData{events: events, races: map[string]*model.Race{"R1": race}}
	eng, pf := newTestEngine(data, &fakeBetting{}, 100000)

	var betErr error
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type == DataOdds {
				_, betErr = e.PlaceBet("R1", []string{"H1"}, 1000, model.Win)
			}
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	require.ErrorIs(t, betErr, ErrClosedRace)
	assert.Equal(t, int64(100000), pf.RawBalance())
}

func TestPlaceBetValidation(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race)[:1], races: map[string]*model.Race{"R1": race}}
	eng, _ := newTestEngine(data, &fakeBetting{}, 3000)

	var errs []error
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			collect := func(_ *BetHandle, err error) { errs = append(errs, err) }
			collect(e.PlaceBet("R1", []string{"H1", "H2"}, 1000, model.Win))  // aridade
			collect(e.PlaceBet("R1", []string{"H9"}, 1000, model.Win))       // não inscrito
			collect(e.PlaceBet("R9", []string{"H1"}, 1000, model.Win))       // corrida desconhecida
			collect(e.PlaceBet("R1", []string{"H1"}, 0, model.Win))          // stake
			collect(e.PlaceBet("R1", []string{"0", "9"}, 1000, model.BracketQuinella)) // bracket fora de 1..8
			collect(e.PlaceBet("R1", []string{"H1"}, 99999, model.Win))      // sem fundos
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	require.Len(t, errs, 6)
	assert.ErrorIs(t, errs[0], ErrInvalidBet)
	assert.ErrorIs(t, errs[1], ErrInvalidBet)
	assert.ErrorIs(t, errs[2], ErrNotFound)
	assert.ErrorIs(t, errs[3], ErrInvalidBet)
	assert.ErrorIs(t, errs[4], ErrInvalidBet)
	assert.ErrorIs(t, errs[5], ErrInsufficientFunds)
}

func TestBetEventDeliveredAfterHandler(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race)[:1], races: map[string]*model.Race{"R1": race}}
	eng, _ := newTestEngine(data, &fakeBetting{}, 100000)

	var order []string
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			_, _ = e.PlaceBet("R1", []string{"H1"}, 1000, model.Win)
			order = append(order, "data-handler-done")
		},
		onBet: func(_ *Engine, ev *BetEvent) {
			order = append(order, "bet-event")
			assert.True(t, ev.Accepted)
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	// BetEvent só sai depois que o handler corrente devolve o controle
	assert.Equal(t, []string{"data-handler-done", "bet-event"}, order)
}

func TestBrokerRejectionDoesNotReserve(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race)[:1], races: map[string]*model.Race{"R1": race}}
	eng, pf := newTestEngine(data, &fakeBetting{reject: "limit exceeded"}, 100000)

	var handle *BetHandle
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			h, err := e.PlaceBet("R1", []string{"H1"}, 1000, model.Win)
			require.NoError(t, err)
			handle = h
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	require.NotNil(t, handle)
	assert.False(t, handle.Accepted)
	assert.Equal(t, "limit exceeded", handle.Reason)
	assert.Zero(t, pf.Reserved())
}

func TestMissingPayoffIsTerminal(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race), races: map[string]*model.Race{"R1": race}}
	// sem payoffs: aposta pareada sem dividendo é erro de dados terminal
	eng, _ := newTestEngine(data, &fakeBetting{}, 100000)

	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type == DataRace {
				_, _ = e.PlaceBet("R1", []string{"H1"}, 1000, model.Win)
			}
		},
	}

	err := eng.Run(context.Background(), strat)
	require.Error(t, err)
	var dataErr *settlement.DataError
	assert.True(t, errors.As(err, &dataErr))
}

func TestScratchRefundThroughEngine(t *testing.T) {
	race := testRace()
	events := testEvents(race)
	events[2].Finish = &model.FinishOrder{
		RaceID:    "R1",
		Ranking:   []string{"H2", "H3"},
		Scratched: []string{"H1"},
	}
	data := &fakeData{events: events, races: map[string]*model.Race{"R1": race}}
	eng, pf := newTestEngine(data, &fakeBetting{}, 100000)

	var handle *BetHandle
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type == DataRace {
				handle, _ = e.PlaceBet("R1", []string{"H1"}, 5000, model.Win)
			}
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	pos, ok := pf.Position(handle.BetID)
	require.True(t, ok)
	assert.Equal(t, model.BetVoided, pos.State)
	assert.Equal(t, int64(100000), pf.RawBalance()) // stake devolvido
}

func TestStopDrainsPendingResults(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race), races: map[string]*model.Race{"R1": race}}
	betting := &fakeBetting{payoffs: map[string][]model.Payoff{
		"R1": {{RaceID: "R1", BetType: model.Win, Combination: []string{"H1"}, Odds: 3.2}},
	}}
	eng, pf := newTestEngine(data, betting, 100000)

	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type == DataRace {
				_, _ = e.PlaceBet("R1", []string{"H1"}, 1000, model.Win)
				e.Stop() // para antes das odds; o resultado pendente ainda liquida
			}
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	assert.True(t, pf.Settled("R1"))
	assert.Zero(t, pf.Reserved())
}

func TestOddsFrozenAfterRaceStart(t *testing.T) {
	race := testRace()
	events := []*DataEvent{
		{Type: DataRace, RaceID: "R1", Race: race, AvailableAt: raceStart.Add(-time.Hour)},
		{
			Type: DataOdds, RaceID: "R1",
			Odds:        &OddsUpdate{RaceID: "R1", HorseID: "H1", BetType: model.Win, Odds: 2.0},
			AvailableAt: raceStart.Add(-30 * time.Minute),
		},
		{
			Type: DataOdds, RaceID: "R1",
			Odds:        &OddsUpdate{RaceID: "R1", HorseID: "H1", BetType: model.Win, Odds: 50.0},
			AvailableAt: raceStart.Add(time.Minute), // atrasado, ignorado
		},
	}
	data := &fakeData{events: events, races: map[string]*model.Race{"R1": race}}
	eng, _ := newTestEngine(data, &fakeBetting{}, 100000)

	var lastOdds float64
	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			snap, err := e.GetData("R1", model.Win)
			require.NoError(t, err)
			lastOdds = snap.Odds["H1"]
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	assert.Equal(t, 2.0, lastOdds) // atualização pós-largada não aplica
}

func TestStrategyPanicIsIsolated(t *testing.T) {
	race := testRace()
	data := &fakeData{events: testEvents(race), races: map[string]*model.Race{"R1": race}}
	eng, pf := newTestEngine(data, &fakeBetting{}, 100000)

	var where string
	eng.cfg.Hooks.OnStrategyError = func(w string, _ any) { where = w }

	strat := &scriptedStrategy{
		onData: func(e *Engine, ev *DataEvent) {
			if ev.Type == DataRace {
				panic("strategy bug")
			}
		},
	}

	require.NoError(t, eng.Run(context.Background(), strat))
	assert.Contains(t, where, "handler")
	assert.Equal(t, int64(100000), pf.RawBalance())
}
