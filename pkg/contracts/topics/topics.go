package topics

const (
	// Feed de corrida
	OddsUpdates = "odds_updates"
	RaceCards   = "race_cards"
	RaceResults = "race_results"

	// Saída do engine
	BetSettled = "bet_settled"
)
