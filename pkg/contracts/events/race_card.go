package events

import "time"

// HorseEntry é a inscrição de um cavalo no cartão publicado.
type HorseEntry struct {
	HorseID string             `json:"horse_id"`
	Name    string             `json:"name"`
	Jockey  string             `json:"jockey"`
	Trainer string             `json:"trainer"`
	Draw    int                `json:"draw"`
	Odds    map[string]float64 `json:"odds"` // bet_type → odds de abertura
}

// Evento publicado no tópico "race_cards": cartão completo da corrida.
type RaceCard struct {
	RaceID      string       `json:"race_id"`
	Date        time.Time    `json:"date"`
	Course      string       `json:"course"`
	Distance    int          `json:"distance"`
	Ground      string       `json:"ground"`
	Weather     string       `json:"weather"`
	Horses      []HorseEntry `json:"horses"`
	PublishedAt time.Time    `json:"published_at"`
	Source      string       `json:"source"`
}
