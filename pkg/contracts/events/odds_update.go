package events

import "time"

// Evento publicado no tópico "odds_updates": odd corrente de um cavalo
// para um tipo de aposta.
type OddsUpdate struct {
	RaceID    string    `json:"race_id"`
	HorseID   string    `json:"horse_id"`
	BetType   string    `json:"bet_type"`
	Odds      float64   `json:"odds"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
	Version   int       `json:"version"` // incrementado a cada atualização
}
