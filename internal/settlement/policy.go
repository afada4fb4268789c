package settlement

import (
	"fmt"
	"strconv"
	"strings"
)

// ScratchPolicy define o tratamento de apostas que incluem cavalo retirado.
type ScratchPolicy string

const (
	// ScratchRefund devolve o stake e encerra a aposta como VOIDED.
	ScratchRefund ScratchPolicy = "refund"
	// ScratchLose liquida como não pareada, sem reembolso.
	ScratchLose ScratchPolicy = "lose"
)

// PlaceRule mapeia tamanho de campo para número de colocações pagas.
// MaxStarters == 0 funciona como regra final (pega qualquer campo).
type PlaceRule struct {
	MaxStarters int
	Places      int
}

// BracketFunc converte draw em número de bracket para um campo de N inscritos.
type BracketFunc func(draw, fieldSize int) int

// Policy agrupa as regras de liquidação que variam por praça/venue.
// O threshold de place e a tabela de brackets são entrada de política,
// nunca hardcoded na liquidação.
type Policy struct {
	PlaceRules []PlaceRule
	Brackets   BracketFunc
	Scratch    ScratchPolicy
}

// DefaultPolicy replica a convenção JRA: 2 colocações até 7 largadores,
// 3 a partir de 8; brackets derivados do tamanho do campo; scratch reembolsa.
func DefaultPolicy() Policy {
	return Policy{
		PlaceRules: []PlaceRule{{MaxStarters: 7, Places: 2}, {MaxStarters: 0, Places: 3}},
		Brackets:   DefaultBracket,
		Scratch:    ScratchRefund,
	}
}

// PlacesFor retorna quantas colocações pagam para um campo de n largadores.
func (p Policy) PlacesFor(starters int) int {
	for _, rule := range p.PlaceRules {
		if rule.MaxStarters == 0 || starters <= rule.MaxStarters {
			return rule.Places
		}
	}
	return 3
}

func (p Policy) bracketOf(draw, fieldSize int) int {
	if p.Brackets != nil {
		return p.Brackets(draw, fieldSize)
	}
	return DefaultBracket(draw, fieldSize)
}

// ParsePlaceRules interpreta a tabela de thresholds no formato
// "max_starters:places,..." (ex.: "7:2,0:3"). Regras são avaliadas na
// ordem dada; max_starters 0 fecha a tabela.
func ParsePlaceRules(s string) ([]PlaceRule, error) {
	var rules []PlaceRule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid place rule %q", part)
		}
		maxStarters, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid place rule %q: %w", part, err)
		}
		places, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid place rule %q: %w", part, err)
		}
		if maxStarters < 0 || places <= 0 {
			return nil, fmt.Errorf("invalid place rule %q", part)
		}
		rules = append(rules, PlaceRule{MaxStarters: maxStarters, Places: places})
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("empty place rule table %q", s)
	}
	return rules, nil
}

// DefaultBracket distribui draws em 8 brackets: campos até 8 têm um cavalo
// por bracket; acima disso os brackets mais altos recebem os draws extras
// (ex.: 18 inscritos → brackets 7 e 8 com três cavalos cada).
func DefaultBracket(draw, fieldSize int) int {
	if fieldSize <= 8 || draw <= 0 {
		return draw
	}
	base := fieldSize / 8
	extra := fieldSize % 8
	// primeiros (8-extra) brackets têm `base` cavalos, o resto base+1
	cutoff := (8 - extra) * base
	if draw <= cutoff {
		return (draw-1)/base + 1
	}
	return (draw-cutoff-1)/(base+1) + (8 - extra) + 1
}
