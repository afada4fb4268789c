package events

import "time"

// Evento emitido pelo engine no tópico "bet_settled" após liquidar uma
// corrida, uma mensagem por posição.
type BetSettled struct {
	BetID       string    `json:"bet_id"`
	RaceID      string    `json:"race_id"`
	BetType     string    `json:"bet_type"`
	Selection   []string  `json:"selection"`
	StakeCents  int64     `json:"stake_cents"`
	PayoutCents int64     `json:"payout_cents"`
	State       string    `json:"state"` // MATCHED | UNMATCHED | VOIDED
	SettledAt   time.Time `json:"settled_at"`
}
