package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
)

func replayDataset() ([]model.Race, []model.FinishOrder, []model.Payoff) {
	races := []model.Race{
		{
			RaceID: "R1",
			Date:   time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC),
			Horses: []model.HorseEntry{
				{RaceID: "R1", HorseID: "H1", Draw: 1, Odds: map[model.BetType]float64{model.Win: 3.2}},
				{RaceID: "R1", HorseID: "H2", Draw: 2, Odds: map[model.BetType]float64{model.Win: 5.0}},
			},
		},
		{
			RaceID: "R2",
			Date:   time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC),
			Horses: []model.HorseEntry{
				{RaceID: "R2", HorseID: "H1", Draw: 1, Odds: map[model.BetType]float64{model.Win: 2.1}},
			},
		},
	}
	finishes := []model.FinishOrder{
		{RaceID: "R1", Ranking: []string{"H1", "H2"}},
		{RaceID: "R2", Ranking: []string{"H1"}},
	}
	payoffs := []model.Payoff{
		{RaceID: "R1", BetType: model.Win, Combination: []string{"H1"}, Odds: 3.2},
		{RaceID: "R2", BetType: model.Win, Combination: []string{"H1"}, Odds: 2.1},
	}
	return races, finishes, payoffs
}

func TestReplayEventOrdering(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)

	var sequence []string
	var last time.Time
	for {
		ev, ok, err := r.PollNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		sequence = append(sequence, string(ev.Type)+":"+ev.RaceID)
		assert.False(t, ev.AvailableAt.Before(last), "events out of order")
		last = ev.AvailableAt
	}

	assert.Equal(t, []string{
		"race:R1",  // 14:00, cartão 1h antes
		"race:R2",  // 15:00
		"result:R1", // 15:10
		"result:R2", // 16:10
	}, sequence)
}

func TestReplayDeterministicAcrossRuns(t *testing.T) {
	collect := func() []string {
		races, finishes, payoffs := replayDataset()
		r := NewReplay(ReplayConfig{}, races, finishes, payoffs)
		var out []string
		for {
			ev, ok, _ := r.PollNext()
			if !ok {
				return out
			}
			out = append(out, string(ev.Type)+":"+ev.RaceID)
		}
	}

	first := collect()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, collect())
	}
}

func TestReplayRewind(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)

	ev1, ok, _ := r.PollNext()
	require.True(t, ok)
	r.Rewind()
	ev2, ok, _ := r.PollNext()
	require.True(t, ok)
	assert.Equal(t, ev1.RaceID, ev2.RaceID)
}

func TestReplayStartIsFirstEvent(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)

	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), r.Start())
}

func TestReplayLoadOddsFromCard(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)

	odds, err := r.LoadOdds("R1")
	require.NoError(t, err)
	assert.Equal(t, 3.2, odds[model.Win]["H1"])
	assert.Equal(t, 5.0, odds[model.Win]["H2"])

	_, err = r.LoadRace("R9")
	assert.Error(t, err)
}

func TestReplayHistoryCursor(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)

	cursor, err := r.History("H1")
	require.NoError(t, err)

	count := 0
	for {
		rec, ok := cursor.Next()
		if !ok {
			break
		}
		count++
		require.NotNil(t, rec.Race)
		require.NotNil(t, rec.Entry)
		assert.Equal(t, "H1", rec.Entry.HorseID)
	}
	assert.Equal(t, 2, count) // H1 correu em R1 e R2

	// cursor reinicia do zero
	cursor.Reset()
	_, ok := cursor.Next()
	assert.True(t, ok)
}

func TestPaperBettingSubmitLimits(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)
	b := NewPaperBetting(r, 5000)

	accepted, _, err := b.Submit(&model.Bet{BetID: "B1", StakeCents: 5000})
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, reason, err := b.Submit(&model.Bet{BetID: "B2", StakeCents: 5001})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.NotEmpty(t, reason)
}

func TestPaperBettingConfirmSettlement(t *testing.T) {
	races, finishes, payoffs := replayDataset()
	r := NewReplay(ReplayConfig{}, races, finishes, payoffs)
	b := NewPaperBetting(r, 0)

	got, err := b.ConfirmSettlement("R1", &model.FinishOrder{RaceID: "R1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Win, got[0].BetType)
}

var _ engine.DataRepository = (*ReplayDataRepository)(nil)
var _ engine.BettingRepository = (*PaperBettingRepository)(nil)
