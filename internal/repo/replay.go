package repo

import (
	"fmt"
	"sort"
	"time"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
)

// ReplayConfig controla os instantes de publicação sintetizados quando o
// dataset não os traz explícitos.
type ReplayConfig struct {
	CardLead    time.Duration // antecedência do cartão sobre a largada
	ResultDelay time.Duration // atraso do resultado após a largada
}

func (c ReplayConfig) withDefaults() ReplayConfig {
	if c.CardLead <= 0 {
		c.CardLead = time.Hour
	}
	if c.ResultDelay <= 0 {
		c.ResultDelay = 10 * time.Minute
	}
	return c
}

// ReplayDataRepository serve um dataset histórico como um cursor finito de
// eventos, ordenado por (instante, ordem de inserção) — a mesma corrida
// replays idênticos, sempre.
type ReplayDataRepository struct {
	cfg      ReplayConfig
	races    map[string]*model.Race
	payoffs  map[string][]model.Payoff
	finishes map[string]*model.FinishOrder
	events   []*engine.DataEvent
	cursor   int
}

// NewReplay monta o repositório de replay a partir do dataset carregado.
func NewReplay(cfg ReplayConfig, races []model.Race, finishes []model.FinishOrder, payoffs []model.Payoff) *ReplayDataRepository {
	cfg = cfg.withDefaults()
	r := &ReplayDataRepository{
		cfg:      cfg,
		races:    make(map[string]*model.Race, len(races)),
		payoffs:  make(map[string][]model.Payoff),
		finishes: make(map[string]*model.FinishOrder, len(finishes)),
	}
	for i := range races {
		race := races[i]
		r.races[race.RaceID] = &race
	}
	for _, p := range payoffs {
		r.payoffs[p.RaceID] = append(r.payoffs[p.RaceID], p)
	}
	for i := range finishes {
		f := finishes[i]
		r.finishes[f.RaceID] = &f
	}

	// itera o slice de entrada, não o map: empates de instante preservam a
	// ordem do dataset entre execuções
	for i := range races {
		race := r.races[races[i].RaceID]
		r.events = append(r.events, &engine.DataEvent{
			Type:        engine.DataRace,
			RaceID:      race.RaceID,
			Race:        race,
			AvailableAt: race.Date.Add(-cfg.CardLead),
		})
		if finish, ok := r.finishes[race.RaceID]; ok {
			r.events = append(r.events, &engine.DataEvent{
				Type:        engine.DataResult,
				RaceID:      race.RaceID,
				Finish:      finish,
				AvailableAt: race.Date.Add(cfg.ResultDelay),
			})
		}
	}
	// sort estável preserva a ordem de inserção em empate de instante
	sort.SliceStable(r.events, func(i, j int) bool {
		return r.events[i].AvailableAt.Before(r.events[j].AvailableAt)
	})
	return r
}

// Start retorna o instante do primeiro evento do cursor.
func (r *ReplayDataRepository) Start() time.Time {
	if len(r.events) == 0 {
		return time.Now().UTC()
	}
	return r.events[0].AvailableAt
}

// Rewind reposiciona o cursor no início, para um novo run.
func (r *ReplayDataRepository) Rewind() { r.cursor = 0 }

// PollNext consome o próximo item do cursor histórico.
func (r *ReplayDataRepository) PollNext() (*engine.DataEvent, bool, error) {
	if r.cursor >= len(r.events) {
		return nil, false, nil
	}
	ev := r.events[r.cursor]
	r.cursor++
	return ev, true, nil
}

// LoadRace retorna o cartão da corrida.
func (r *ReplayDataRepository) LoadRace(raceID string) (*model.Race, error) {
	race, ok := r.races[raceID]
	if !ok {
		return nil, fmt.Errorf("race %s not in replay dataset", raceID)
	}
	return race, nil
}

// LoadOdds retorna as odds do cartão, por bet type e cavalo.
func (r *ReplayDataRepository) LoadOdds(raceID string) (map[model.BetType]map[string]float64, error) {
	race, err := r.LoadRace(raceID)
	if err != nil {
		return nil, err
	}
	out := make(map[model.BetType]map[string]float64)
	for i := range race.Horses {
		h := &race.Horses[i]
		for bt, value := range h.Odds {
			if out[bt] == nil {
				out[bt] = make(map[string]float64)
			}
			out[bt][h.HorseID] = value
		}
	}
	return out, nil
}

// Payoffs retorna os dividendos oficiais da corrida.
func (r *ReplayDataRepository) Payoffs(raceID string) []model.Payoff {
	return r.payoffs[raceID]
}

// History percorre as corridas passadas do cavalo em ordem cronológica.
func (r *ReplayDataRepository) History(horseID string) (engine.HistoryCursor, error) {
	var records []engine.HistoryRecord
	for _, race := range r.races {
		entry := race.Horse(horseID)
		if entry == nil {
			continue
		}
		records = append(records, engine.HistoryRecord{
			Race:    race,
			Entry:   entry,
			Payoffs: r.payoffs[race.RaceID],
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Race.Date.Equal(records[j].Race.Date) {
			return records[i].Race.Date.Before(records[j].Race.Date)
		}
		return records[i].Race.RaceID < records[j].Race.RaceID
	})
	return &sliceCursor{records: records}, nil
}

// sliceCursor é um HistoryCursor finito e reiniciável sobre um slice.
type sliceCursor struct {
	records []engine.HistoryRecord
	idx     int
}

func (c *sliceCursor) Next() (engine.HistoryRecord, bool) {
	if c.idx >= len(c.records) {
		return engine.HistoryRecord{}, false
	}
	rec := c.records[c.idx]
	c.idx++
	return rec, true
}

func (c *sliceCursor) Reset() { c.idx = 0 }
