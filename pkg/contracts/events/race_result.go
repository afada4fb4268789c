package events

import "time"

// Payoff é o dividendo oficial de uma combinação.
type Payoff struct {
	BetType     string   `json:"bet_type"`
	Combination []string `json:"combination"`
	Odds        float64  `json:"odds"`
	PayoutCents int64    `json:"payout_cents"`
}

// Evento publicado no tópico "race_results": ordem de chegada oficial,
// retirados e dividendos.
type RaceResult struct {
	RaceID      string    `json:"race_id"`
	Ranking     []string  `json:"ranking"` // horse ids, primeiro = vencedor
	Scratched   []string  `json:"scratched"`
	Payoffs     []Payoff  `json:"payoffs"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
}
