package events

// FeedMessage é o envelope enviado pelo fornecedor via WebSocket.
// Exatamente um dos payloads vem preenchido conforme Type.
type FeedMessage struct {
	Type   string      `json:"type"` // "odds" | "card" | "result"
	Odds   *OddsUpdate `json:"odds,omitempty"`
	Card   *RaceCard   `json:"card,omitempty"`
	Result *RaceResult `json:"result,omitempty"`
}

const (
	FeedTypeOdds   = "odds"
	FeedTypeCard   = "card"
	FeedTypeResult = "result"
)
