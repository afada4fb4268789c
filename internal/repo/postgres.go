package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/radieske/keiba-engine-poc/internal/engine"
	"github.com/radieske/keiba-engine-poc/internal/model"
	"github.com/radieske/keiba-engine-poc/internal/portfolio"
)

// Postgres dá acesso ao dataset histórico persistido: corridas, inscrições,
// resultados e payoffs. O backtest carrega tudo daqui e monta o replay.
type Postgres struct{ db *sql.DB }

// NewPostgres retorna o repositório de dados históricos.
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// ListRaces carrega os cartões de corrida do intervalo, com inscrições.
func (p *Postgres) ListRaces(ctx context.Context, from, to time.Time) ([]model.Race, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT race_id, date, course, distance, ground, weather
		FROM races WHERE date >= $1 AND date < $2 ORDER BY date, race_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list races: %w", err)
	}
	defer rows.Close()

	var races []model.Race
	for rows.Next() {
		var r model.Race
		if err := rows.Scan(&r.RaceID, &r.Date, &r.Course, &r.Distance, &r.Ground, &r.Weather); err != nil {
			return nil, fmt.Errorf("scan race: %w", err)
		}
		r.Date = r.Date.UTC()
		races = append(races, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range races {
		horses, err := p.listHorses(ctx, races[i].RaceID)
		if err != nil {
			return nil, err
		}
		races[i].Horses = horses
	}
	return races, nil
}

func (p *Postgres) listHorses(ctx context.Context, raceID string) ([]model.HorseEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT horse_id, name, jockey, trainer, draw, odds
		FROM race_horses WHERE race_id=$1 ORDER BY draw`, raceID)
	if err != nil {
		return nil, fmt.Errorf("list horses %s: %w", raceID, err)
	}
	defer rows.Close()

	var horses []model.HorseEntry
	for rows.Next() {
		var h model.HorseEntry
		var rawOdds string
		h.RaceID = raceID
		if err := rows.Scan(&h.HorseID, &h.Name, &h.Jockey, &h.Trainer, &h.Draw, &rawOdds); err != nil {
			return nil, fmt.Errorf("scan horse: %w", err)
		}
		h.Odds, err = parseOdds(rawOdds)
		if err != nil {
			return nil, fmt.Errorf("horse %s: %w", h.HorseID, err)
		}
		horses = append(horses, h)
	}
	return horses, rows.Err()
}

// parseOdds decodifica a coluna JSON bet_type→odds, aceitando aliases
// (inclusive os nomes em japonês dos dados JRA).
func parseOdds(raw string) (map[model.BetType]float64, error) {
	if raw == "" {
		return map[model.BetType]float64{}, nil
	}
	var decoded map[string]float64
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode odds: %w", err)
	}
	odds := make(map[model.BetType]float64, len(decoded))
	for k, v := range decoded {
		bt, ok := model.CanonicalBetType(k)
		if !ok {
			continue
		}
		odds[bt] = v
	}
	return odds, nil
}

// ListFinishOrders carrega os resultados oficiais do intervalo.
func (p *Postgres) ListFinishOrders(ctx context.Context, from, to time.Time) ([]model.FinishOrder, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.race_id, res.ranking, res.scratched
		FROM race_results res JOIN races r ON r.race_id = res.race_id
		WHERE r.date >= $1 AND r.date < $2 ORDER BY r.date, r.race_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var finishes []model.FinishOrder
	for rows.Next() {
		var f model.FinishOrder
		var ranking, scratched string
		if err := rows.Scan(&f.RaceID, &ranking, &scratched); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		f.Ranking = splitIDs(ranking)
		f.Scratched = splitIDs(scratched)
		finishes = append(finishes, f)
	}
	return finishes, rows.Err()
}

// ListPayoffs carrega os dividendos oficiais do intervalo.
func (p *Postgres) ListPayoffs(ctx context.Context, from, to time.Time) ([]model.Payoff, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pf.race_id, pf.bet_type, pf.combination, pf.odds, pf.payout_cents
		FROM payoffs pf JOIN races r ON r.race_id = pf.race_id
		WHERE r.date >= $1 AND r.date < $2 ORDER BY r.date, pf.race_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list payoffs: %w", err)
	}
	defer rows.Close()

	var payoffs []model.Payoff
	for rows.Next() {
		var pay model.Payoff
		var rawType, combination string
		if err := rows.Scan(&pay.RaceID, &rawType, &combination, &pay.Odds, &pay.PayoutCents); err != nil {
			return nil, fmt.Errorf("scan payoff: %w", err)
		}
		bt, ok := model.CanonicalBetType(rawType)
		if !ok {
			continue // tipo não suportado no dataset, ignora
		}
		pay.BetType = bt
		pay.Combination = strings.Split(combination, "-")
		payoffs = append(payoffs, pay)
	}
	return payoffs, rows.Err()
}

// History monta o cursor de corridas passadas do cavalo, em ordem
// cronológica, com inscrição e payoffs de cada uma.
func (p *Postgres) History(ctx context.Context, horseID string) (engine.HistoryCursor, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT rh.race_id FROM race_horses rh
		JOIN races r ON r.race_id = rh.race_id
		WHERE rh.horse_id=$1 ORDER BY r.date`, horseID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", horseID, err)
	}
	defer rows.Close()

	var raceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		raceIDs = append(raceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]engine.HistoryRecord, 0, len(raceIDs))
	for _, raceID := range raceIDs {
		race, err := p.loadRace(ctx, raceID)
		if err != nil {
			return nil, err
		}
		payoffs, err := p.racePayoffs(ctx, raceID)
		if err != nil {
			return nil, err
		}
		records = append(records, engine.HistoryRecord{
			Race:    race,
			Entry:   race.Horse(horseID),
			Payoffs: payoffs,
		})
	}
	return &sliceCursor{records: records}, nil
}

func (p *Postgres) loadRace(ctx context.Context, raceID string) (*model.Race, error) {
	var r model.Race
	err := p.db.QueryRowContext(ctx, `
		SELECT race_id, date, course, distance, ground, weather
		FROM races WHERE race_id=$1`, raceID).
		Scan(&r.RaceID, &r.Date, &r.Course, &r.Distance, &r.Ground, &r.Weather)
	if err != nil {
		return nil, fmt.Errorf("load race %s: %w", raceID, err)
	}
	r.Date = r.Date.UTC()
	r.Horses, err = p.listHorses(ctx, raceID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) racePayoffs(ctx context.Context, raceID string) ([]model.Payoff, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bet_type, combination, odds, payout_cents
		FROM payoffs WHERE race_id=$1`, raceID)
	if err != nil {
		return nil, fmt.Errorf("race payoffs %s: %w", raceID, err)
	}
	defer rows.Close()

	var payoffs []model.Payoff
	for rows.Next() {
		var pay model.Payoff
		var rawType, combination string
		pay.RaceID = raceID
		if err := rows.Scan(&rawType, &combination, &pay.Odds, &pay.PayoutCents); err != nil {
			return nil, err
		}
		bt, ok := model.CanonicalBetType(rawType)
		if !ok {
			continue
		}
		pay.BetType = bt
		pay.Combination = strings.Split(combination, "-")
		payoffs = append(payoffs, pay)
	}
	return payoffs, rows.Err()
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SettlementLog persiste o ledger append-only do portfolio em Postgres,
// para auditoria e análise fora do processo.
type SettlementLog struct{ db *sql.DB }

// NewSettlementLog cria o sink de ledger.
func NewSettlementLog(db *sql.DB) *SettlementLog { return &SettlementLog{db: db} }

// Append grava uma entrada do ledger. Chamado sincronamente pelo portfolio;
// a consistência do run vem do ledger em memória, esta é a cópia de auditoria.
func (s *SettlementLog) Append(entry portfolio.LedgerEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO settlement_log(seq, operation_type, bet_id, race_id, amount_cents, at, description)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		entry.Seq, string(entry.Op), entry.BetID, entry.RaceID, entry.AmountCents, entry.At, entry.Description)
	if err != nil {
		return fmt.Errorf("append settlement log: %w", err)
	}
	return nil
}
