package engine

import (
	"time"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

// EventKind classifica os eventos entregues pelo bus.
type EventKind string

const (
	KindData   EventKind = "data"
	KindTime   EventKind = "time"
	KindBet    EventKind = "bet"
	KindResult EventKind = "result"
)

// Event é a unidade entregue aos handlers do bus, sempre em ordem total única.
type Event interface {
	Kind() EventKind
	At() time.Time
}

// DataKind distingue o conteúdo de um DataEvent.
type DataKind string

const (
	DataRace   DataKind = "race"   // cartão de corrida publicado
	DataOdds   DataKind = "odds"   // atualização de odds
	DataResult DataKind = "result" // ordem de chegada disponível
)

// OddsUpdate é uma atualização pontual de odds de um cavalo.
type OddsUpdate struct {
	RaceID  string
	HorseID string
	BetType model.BetType
	Odds    float64
}

// DataEvent sinaliza novo dado disponível nos repositórios.
type DataEvent struct {
	Type        DataKind
	RaceID      string
	Race        *model.Race        // preenchido quando Type == DataRace
	Odds        *OddsUpdate        // preenchido quando Type == DataOdds
	Finish      *model.FinishOrder // preenchido quando Type == DataResult
	AvailableAt time.Time
}

func (e *DataEvent) Kind() EventKind { return KindData }
func (e *DataEvent) At() time.Time   { return e.AvailableAt }

// TimeEvent sinaliza timer agendado disparado.
type TimeEvent struct {
	Name         string
	ScheduledFor time.Time
}

func (e *TimeEvent) Kind() EventKind { return KindTime }
func (e *TimeEvent) At() time.Time   { return e.ScheduledFor }

// BetEvent sinaliza aposta aceita ou rejeitada.
type BetEvent struct {
	Bet      model.Bet
	Accepted bool
	Reason   string
	PlacedAt time.Time
}

func (e *BetEvent) Kind() EventKind { return KindBet }
func (e *BetEvent) At() time.Time   { return e.PlacedAt }

// ResultEvent sinaliza corrida liquidada: chegada oficial mais as posições
// resultantes da liquidação.
type ResultEvent struct {
	RaceID    string
	Finish    *model.FinishOrder
	Positions []model.Position
	SettledAt time.Time
}

func (e *ResultEvent) Kind() EventKind { return KindResult }
func (e *ResultEvent) At() time.Time   { return e.SettledAt }
