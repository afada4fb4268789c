package settlement

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

var (
	// ErrInvalidBet indica aposta com tipo ou aridade inválida.
	ErrInvalidBet = errors.New("invalid bet")
	// ErrUnknownHorse indica seleção referenciando cavalo fora do cartão.
	ErrUnknownHorse = errors.New("selection references unknown horse")
)

// DataError sinaliza aposta pareada sem payoff correspondente na base.
// É falha de integridade de dados: nunca liquidar como payout zero.
type DataError struct {
	RaceID  string
	BetID   string
	BetType model.BetType
	Key     string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("settlement data error: no payoff for race=%s bet=%s type=%s combination=%s",
		e.RaceID, e.BetID, e.BetType, e.Key)
}

// Index indexa payoffs por (bet_type, combinação canônica).
type Index map[model.BetType]map[string]model.Payoff

// BuildIndex monta o índice de consulta a partir dos payoffs de uma corrida.
func BuildIndex(payoffs []model.Payoff) Index {
	ix := make(Index)
	for _, p := range payoffs {
		byKey, ok := ix[p.BetType]
		if !ok {
			byKey = make(map[string]model.Payoff)
			ix[p.BetType] = byKey
		}
		byKey[p.Key()] = p
	}
	return ix
}

// Lookup busca o payoff de uma combinação canônica.
func (ix Index) Lookup(t model.BetType, key string) (model.Payoff, bool) {
	p, ok := ix[t][key]
	return p, ok
}

// Input reúne os dados imutáveis necessários para liquidar uma corrida.
type Input struct {
	Race    *model.Race
	Finish  *model.FinishOrder
	Payoffs Index
}

// Outcome é o resultado da liquidação de uma aposta.
type Outcome struct {
	State       model.BetState
	Matched     bool
	PayoutCents int64
}

// Settle é função pura: (resultado, scratches, aposta) → (pareada?, payout).
// Não muta estado nenhum; o ledger é aplicado pelo chamador.
func Settle(bet *model.Bet, in Input, pol Policy) (Outcome, error) {
	if !bet.BetType.Valid() || len(bet.Selection) != bet.BetType.Arity() {
		return Outcome{}, fmt.Errorf("%w: type=%s selection=%v", ErrInvalidBet, bet.BetType, bet.Selection)
	}

	// Scratch: para tipos de cavalo, seleção com retirado segue a política.
	if bet.BetType != model.BracketQuinella {
		for _, id := range bet.Selection {
			if in.Finish.IsScratched(id) {
				if pol.Scratch == ScratchRefund {
					return Outcome{State: model.BetVoided}, nil
				}
				return Outcome{State: model.BetUnmatched}, nil
			}
		}
	}

	matched, err := matches(bet, in, pol)
	if err != nil {
		return Outcome{}, err
	}
	if !matched {
		return Outcome{State: model.BetUnmatched}, nil
	}

	payoff, ok := in.Payoffs.Lookup(bet.BetType, bet.CanonicalKey())
	if !ok {
		return Outcome{}, &DataError{
			RaceID:  bet.RaceID,
			BetID:   bet.BetID,
			BetType: bet.BetType,
			Key:     bet.CanonicalKey(),
		}
	}
	payout := int64(math.Round(payoff.Odds * float64(bet.StakeCents)))
	return Outcome{State: model.BetMatched, Matched: true, PayoutCents: payout}, nil
}

func matches(bet *model.Bet, in Input, pol Policy) (bool, error) {
	finish := in.Finish
	arity := bet.BetType.Arity()
	if bet.BetType != model.Place && bet.BetType != model.QuinellaPlace && len(finish.Ranking) < arity {
		return false, nil
	}

	switch bet.BetType {
	case model.Win:
		return finish.Ranking[0] == bet.Selection[0], nil

	case model.Place:
		places := pol.PlacesFor(len(finish.Ranking))
		rank, ok := finish.Rank(bet.Selection[0])
		return ok && rank <= places, nil

	case model.Quinella:
		return sameSet(bet.Selection, finish.Ranking[:2]), nil

	case model.Exacta:
		return bet.Selection[0] == finish.Ranking[0] && bet.Selection[1] == finish.Ranking[1], nil

	case model.QuinellaPlace:
		places := pol.PlacesFor(len(finish.Ranking))
		for _, id := range bet.Selection {
			rank, ok := finish.Rank(id)
			if !ok || rank > places {
				return false, nil
			}
		}
		return true, nil

	case model.BracketQuinella:
		return bracketQuinellaMatches(bet, in, pol)

	case model.TrifectaBox:
		return sameSet(bet.Selection, finish.Ranking[:3]), nil

	case model.TrifectaExact:
		return bet.Selection[0] == finish.Ranking[0] &&
			bet.Selection[1] == finish.Ranking[1] &&
			bet.Selection[2] == finish.Ranking[2], nil
	}
	return false, fmt.Errorf("%w: type=%s", ErrInvalidBet, bet.BetType)
}

// bracketQuinellaMatches compara o par de brackets dos dois primeiros
// colocados com a seleção (números de bracket), sem ordem.
func bracketQuinellaMatches(bet *model.Bet, in Input, pol Policy) (bool, error) {
	fieldSize := in.Race.FieldSize()
	got := make([]string, 0, 2)
	for _, id := range in.Finish.Ranking[:2] {
		horse := in.Race.Horse(id)
		if horse == nil {
			return false, fmt.Errorf("%w: %s", ErrUnknownHorse, id)
		}
		got = append(got, strconv.Itoa(pol.bracketOf(horse.Draw, fieldSize)))
	}
	return sameSet(bet.Selection, got), nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
