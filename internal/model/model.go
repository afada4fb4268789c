package model

import (
	"sort"
	"strings"
	"time"
)

// BetType identifica a estrutura combinatória da aposta.
type BetType string

const (
	Win             BetType = "win"
	Place           BetType = "place"
	BracketQuinella BetType = "bracket_quinella"
	Quinella        BetType = "quinella"
	Exacta          BetType = "exacta"
	QuinellaPlace   BetType = "quinella_place"
	TrifectaBox     BetType = "trifecta_box"
	TrifectaExact   BetType = "trifecta_exact"
)

// Aliases aceitos na entrada (dados JRA usam os nomes em japonês).
var betTypeAliases = map[string]BetType{
	"win": Win, "単勝": Win,
	"place": Place, "複勝": Place,
	"bracket_quinella": BracketQuinella, "枠連": BracketQuinella,
	"quinella": Quinella, "馬連": Quinella,
	"exacta": Exacta, "馬単": Exacta,
	"quinella_place": QuinellaPlace, "wide": QuinellaPlace, "ワイド": QuinellaPlace,
	"trifecta_box": TrifectaBox, "三連複": TrifectaBox,
	"trifecta_exact": TrifectaExact, "三連単": TrifectaExact,
}

// CanonicalBetType normaliza um bet type vindo de dados externos.
// Retorna false se o valor não for reconhecido.
func CanonicalBetType(raw string) (BetType, bool) {
	bt, ok := betTypeAliases[strings.ToLower(strings.TrimSpace(raw))]
	return bt, ok
}

// Arity retorna o tamanho de seleção exigido pelo tipo de aposta.
func (t BetType) Arity() int {
	switch t {
	case Win, Place:
		return 1
	case BracketQuinella, Quinella, Exacta, QuinellaPlace:
		return 2
	case TrifectaBox, TrifectaExact:
		return 3
	}
	return 0
}

// OrderSensitive indica se a ordem da seleção importa na liquidação.
func (t BetType) OrderSensitive() bool {
	return t == Exacta || t == TrifectaExact
}

// Valid informa se o tipo é um dos oito suportados.
func (t BetType) Valid() bool {
	return t.Arity() > 0
}

// CanonicalCombination gera a chave de combinação usada no índice de payoffs:
// ordenada ascendente para tipos sem ordem, como informada para exacta/trifecta.
func CanonicalCombination(t BetType, selection []string) string {
	combo := make([]string, len(selection))
	copy(combo, selection)
	if !t.OrderSensitive() {
		sort.Strings(combo)
	}
	return strings.Join(combo, "-")
}

// HorseEntry é um cavalo inscrito em uma corrida.
// Odds são mutáveis até a largada; depois o snapshot é congelado.
type HorseEntry struct {
	RaceID  string
	HorseID string
	Name    string
	Jockey  string
	Trainer string
	Draw    int // posição de largada; base do agrupamento em brackets
	Odds    map[BetType]float64
}

// Race é o cartão de corrida. Imutável após publicado; a ordem de Horses é a
// ordem do programa, não a ordem de chegada.
type Race struct {
	RaceID   string
	Date     time.Time
	Course   string
	Distance int
	Ground   string
	Weather  string
	Horses   []HorseEntry
}

// Horse retorna a inscrição do cavalo, ou nil se não participa da corrida.
func (r *Race) Horse(horseID string) *HorseEntry {
	for i := range r.Horses {
		if r.Horses[i].HorseID == horseID {
			return &r.Horses[i]
		}
	}
	return nil
}

// FieldSize é o número de inscritos (inclui scratches; chegada não).
func (r *Race) FieldSize() int { return len(r.Horses) }

// FinishOrder é o resultado oficial: ranking 1..N mais o conjunto de
// retirados, que nunca aparecem no ranking. Produzido uma única vez.
type FinishOrder struct {
	RaceID    string
	Ranking   []string // horse ids, posição 0 = vencedor
	Scratched []string
}

// Rank retorna a colocação (1-based) do cavalo no resultado.
func (f *FinishOrder) Rank(horseID string) (int, bool) {
	for i, id := range f.Ranking {
		if id == horseID {
			return i + 1, true
		}
	}
	return 0, false
}

// IsScratched informa se o cavalo foi retirado da corrida.
func (f *FinishOrder) IsScratched(horseID string) bool {
	for _, id := range f.Scratched {
		if id == horseID {
			return true
		}
	}
	return false
}

// Payoff é o dividendo oficial de uma combinação.
// Chave única: (race_id, bet_type, combinação canônica).
type Payoff struct {
	RaceID      string
	BetType     BetType
	Combination []string
	Odds        float64
	PayoutCents int64
}

// Key retorna a chave canônica da combinação do payoff.
func (p Payoff) Key() string {
	return CanonicalCombination(p.BetType, p.Combination)
}

// BetState é o ciclo de vida da aposta.
// Requested → Accepted|Rejected; Accepted → Matched|Unmatched|Voided.
type BetState string

const (
	BetRequested BetState = "REQUESTED"
	BetAccepted  BetState = "ACCEPTED"
	BetRejected  BetState = "REJECTED"
	BetMatched   BetState = "MATCHED"
	BetUnmatched BetState = "UNMATCHED"
	BetVoided    BetState = "VOIDED" // scratch com política de reembolso
)

// Terminal indica se o estado encerra o ciclo de vida da aposta.
func (s BetState) Terminal() bool {
	return s == BetRejected || s == BetMatched || s == BetUnmatched || s == BetVoided
}

// Bet é uma aposta aceita ou em validação. Selection preserva a ordem do
// chamador; a canonicalização acontece só na liquidação.
type Bet struct {
	BetID      string
	RaceID     string
	BetType    BetType
	Selection  []string
	StakeCents int64
	PlacedAt   time.Time
	State      BetState
}

// CanonicalKey é a combinação canônica da seleção desta aposta.
func (b *Bet) CanonicalKey() string {
	return CanonicalCombination(b.BetType, b.Selection)
}

// Position é uma aposta enriquecida com o resultado da liquidação.
// Imutável após atingir estado terminal.
type Position struct {
	Bet
	Matched     bool
	PayoutCents int64
	SettledAt   time.Time
}
