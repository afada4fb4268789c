package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/model"
	"github.com/radieske/keiba-engine-poc/internal/portfolio"
	"github.com/radieske/keiba-engine-poc/internal/settlement"
)

var (
	// ErrNotFound indica corrida desconhecida pelos repositórios.
	ErrNotFound = errors.New("race not found")
	// ErrInvalidBet indica aposta com tipo, aridade ou seleção inválida.
	ErrInvalidBet = errors.New("invalid bet")
	// ErrClosedRace indica aposta em corrida já largada ou liquidada.
	ErrClosedRace = errors.New("race closed for betting")
	// ErrInsufficientFunds re-exporta a rejeição pré-aceitação do ledger.
	ErrInsufficientFunds = portfolio.ErrInsufficientFunds
)

// HistoryRecord é um item do histórico de um cavalo: a corrida, a inscrição
// do cavalo nela e os payoffs oficiais.
type HistoryRecord struct {
	Race    *model.Race
	Entry   *model.HorseEntry
	Payoffs []model.Payoff
}

// HistoryCursor percorre o histórico de forma lazy, finita e reiniciável.
type HistoryCursor interface {
	Next() (HistoryRecord, bool)
	Reset()
}

// DataRepository fornece corridas, odds e histórico. Replay consome um
// cursor finito ordenado; live espelha um buffer de feed sem bloquear.
type DataRepository interface {
	LoadRace(raceID string) (*model.Race, error)
	LoadOdds(raceID string) (map[model.BetType]map[string]float64, error)
	PollNext() (*DataEvent, bool, error)
	History(horseID string) (HistoryCursor, error)
}

// FeedWaiter é implementado por repositórios live: espera curta e limitada
// por novos dados, nunca além do timeout.
type FeedWaiter interface {
	WaitNext(timeout time.Duration) bool
}

// BettingRepository executa (ou simula) a colocação de apostas e confirma
// os payoffs oficiais de uma corrida liquidada.
type BettingRepository interface {
	Submit(bet *model.Bet) (accepted bool, reason string, err error)
	ConfirmSettlement(raceID string, finish *model.FinishOrder) ([]model.Payoff, error)
}

// RaceSnapshot é a visão imutável devolvida por GetData.
type RaceSnapshot struct {
	Race    model.Race
	BetType model.BetType
	Odds    map[string]float64 // horse id (ou bracket) → odds atuais
}

// BetHandle identifica uma aposta submetida e seu desfecho imediato.
type BetHandle struct {
	BetID    string
	Accepted bool
	Reason   string
}

// Hooks são callbacks de instrumentação ligados pelos mains (métricas).
type Hooks struct {
	OnEvent         func(kind string)
	OnBet           func(accepted bool)
	OnSettlement    func(raceID string)
	OnStrategyError func(where string, recovered any)
}

// Config controla o comportamento do engine.
type Config struct {
	Live          bool
	MaxStakeCents int64         // 0 = sem limite de stake
	PollTimeout   time.Duration // espera máxima por dados em live
	Policy        settlement.Policy
	Hooks         Hooks
}

// Engine orquestra Clock+Scheduler+EventBus e expõe a API de estratégia.
// Toda mutação de estado acontece dentro do loop único de Run.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	clock   Clock
	sched   *Scheduler
	bus     *Bus
	data    DataRepository
	betting BettingRepository
	pf      *portfolio.Portfolio

	strategy Strategy
	races    map[string]*model.Race
	finishes map[string]*model.FinishOrder
	odds     map[string]map[model.BetType]map[string]float64

	pendingBets []*BetEvent
	stopReq     atomic.Bool // pode ser setado fora do loop (signal handler)
	running     bool
}

// New monta o engine com seus colaboradores. O clock define o modo efetivo
// de avanço do tempo; cfg.Live define a origem dos eventos.
func New(cfg Config, log *zap.Logger, clock Clock, data DataRepository, betting BettingRepository, pf *portfolio.Portfolio) *Engine {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	if cfg.Policy.PlaceRules == nil {
		cfg.Policy = settlement.DefaultPolicy()
	}
	e := &Engine{
		cfg:      cfg,
		log:      log,
		clock:    clock,
		sched:    NewScheduler(clock, !cfg.Live),
		bus:      NewBus(),
		data:     data,
		betting:  betting,
		pf:       pf,
		races:    make(map[string]*model.Race),
		finishes: make(map[string]*model.FinishOrder),
		odds:     make(map[string]map[model.BetType]map[string]float64),
	}
	e.sched.OnPanic(func(name string, r any) { e.strategyError("timer:"+name, r) })
	e.bus.OnPanic(func(kind EventKind, r any) { e.strategyError("handler:"+string(kind), r) })

	// hooks da estratégia inscritos primeiro: recebem cada evento na ordem
	// total única do bus
	e.bus.Subscribe(KindData, func(ev Event) { e.strategy.OnData(e, ev.(*DataEvent)) })
	e.bus.Subscribe(KindTime, func(ev Event) { e.strategy.OnTime(e, ev.(*TimeEvent)) })
	e.bus.Subscribe(KindBet, func(ev Event) { e.strategy.OnBet(e, ev.(*BetEvent)) })
	e.bus.Subscribe(KindResult, func(ev Event) { e.strategy.OnResult(e, ev.(*ResultEvent)) })
	return e
}

// Bus expõe o event bus para inscrição de observadores (métricas, análise).
func (e *Engine) Bus() *Bus { return e.bus }

// Clock expõe o relógio corrente do engine.
func (e *Engine) Clock() Clock { return e.clock }

// Portfolio expõe o ledger para leitura de snapshots.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// Stop solicita parada cooperativa: o loop entra em draining — sem eventos
// novos, liquidações de corridas já terminadas completam, timers não
// devidos são descartados.
func (e *Engine) Stop() { e.stopReq.Store(true) }

// Run executa o loop de eventos até esgotar o histórico (replay), cancelar
// o contexto ou Stop(). Retorna erro apenas em falha terminal
// (SettlementDataError ou repositório irrecuperável).
func (e *Engine) Run(ctx context.Context, strat Strategy) error {
	if strat == nil {
		return errors.New("nil strategy")
	}
	e.strategy = strat
	e.running = true
	defer func() { e.running = false }()

	e.safeOnStart()
	e.flushBetEvents()

	for {
		if ctx.Err() != nil || e.stopReq.Load() {
			return e.drain()
		}

		ev, ok, err := e.data.PollNext()
		if err != nil {
			if e.cfg.Live {
				// falha transitória de I/O: o feed reconecta, o loop segue
				e.log.Warn("data poll failed", zap.Error(err))
				e.waitForData()
				continue
			}
			return fmt.Errorf("data repository: %w", err)
		}
		if !ok {
			if !e.cfg.Live {
				// cursor histórico esgotado: fim do replay
				return nil
			}
			e.sched.FireDue(e.clock.Now())
			e.flushBetEvents()
			e.waitForData()
			continue
		}

		e.clock.AdvanceTo(ev.AvailableAt)
		now := e.clock.Now()
		e.sched.FireDue(now)
		e.flushBetEvents()

		if err := e.handleData(ev); err != nil {
			return err
		}
		e.flushBetEvents()
	}
}

func (e *Engine) waitForData() {
	if w, ok := e.data.(FeedWaiter); ok {
		w.WaitNext(e.cfg.PollTimeout)
		return
	}
	time.Sleep(e.cfg.PollTimeout)
}

// drain fecha o run: liquidações pendentes de corridas já terminadas ainda
// rodam; dados e odds restantes são descartados junto com os timers.
func (e *Engine) drain() error {
	e.sched.DiscardAll()
	for {
		ev, ok, err := e.data.PollNext()
		if err != nil || !ok {
			return nil
		}
		if ev.Type != DataResult {
			continue
		}
		e.clock.AdvanceTo(ev.AvailableAt)
		if err := e.handleData(ev); err != nil {
			return err
		}
		e.flushBetEvents()
	}
}

func (e *Engine) handleData(ev *DataEvent) error {
	switch ev.Type {
	case DataRace:
		if ev.Race == nil {
			return nil
		}
		e.races[ev.RaceID] = ev.Race
		e.seedOdds(ev.Race)
	case DataOdds:
		if ev.Odds == nil {
			return nil
		}
		e.applyOdds(ev.Odds)
	case DataResult:
		if ev.Finish == nil {
			return nil
		}
		e.finishes[ev.RaceID] = ev.Finish
	}

	e.publish(ev)

	if ev.Type == DataResult {
		if err := e.settleRace(ev.RaceID, ev.Finish); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) seedOdds(race *model.Race) {
	byType := make(map[model.BetType]map[string]float64)
	for i := range race.Horses {
		h := &race.Horses[i]
		for bt, value := range h.Odds {
			if byType[bt] == nil {
				byType[bt] = make(map[string]float64)
			}
			byType[bt][h.HorseID] = value
		}
	}
	e.odds[race.RaceID] = byType
}

// applyOdds atualiza odds correntes; após a largada o snapshot congela e
// atualizações atrasadas são ignoradas.
func (e *Engine) applyOdds(up *OddsUpdate) {
	race, ok := e.races[up.RaceID]
	if !ok {
		return
	}
	if _, finished := e.finishes[up.RaceID]; finished || !e.clock.Now().Before(race.Date) {
		return
	}
	byType := e.odds[up.RaceID]
	if byType == nil {
		byType = make(map[model.BetType]map[string]float64)
		e.odds[up.RaceID] = byType
	}
	if byType[up.BetType] == nil {
		byType[up.BetType] = make(map[string]float64)
	}
	byType[up.BetType][up.HorseID] = up.Odds
}

// settleRace roda a liquidação exatamente uma vez por corrida.
// SettlementDataError é terminal para o run: nunca liquidar como zero.
func (e *Engine) settleRace(raceID string, finish *model.FinishOrder) error {
	if e.pf.Settled(raceID) {
		return nil
	}
	race, ok := e.races[raceID]
	if !ok {
		loaded, err := e.data.LoadRace(raceID)
		if err != nil {
			return fmt.Errorf("settle %s: %w", raceID, err)
		}
		race = loaded
		e.races[raceID] = race
	}

	payoffs, err := e.betting.ConfirmSettlement(raceID, finish)
	if err != nil {
		return fmt.Errorf("confirm settlement %s: %w", raceID, err)
	}
	index := settlement.BuildIndex(payoffs)
	input := settlement.Input{Race: race, Finish: finish, Payoffs: index}

	bets := e.pf.PendingBets(raceID)
	results := make([]portfolio.SettledBet, 0, len(bets))
	for i := range bets {
		outcome, err := settlement.Settle(&bets[i], input, e.cfg.Policy)
		if err != nil {
			return fmt.Errorf("settle race %s: %w", raceID, err)
		}
		results = append(results, portfolio.SettledBet{
			BetID:       bets[i].BetID,
			State:       outcome.State,
			PayoutCents: outcome.PayoutCents,
		})
	}

	now := e.clock.Now()
	if err := e.pf.ApplySettlement(raceID, results, now); err != nil {
		return fmt.Errorf("apply settlement %s: %w", raceID, err)
	}
	if e.cfg.Hooks.OnSettlement != nil {
		e.cfg.Hooks.OnSettlement(raceID)
	}

	positions := make([]model.Position, 0, len(results))
	for _, r := range results {
		if pos, ok := e.pf.Position(r.BetID); ok {
			positions = append(positions, pos)
		}
	}
	e.publish(&ResultEvent{RaceID: raceID, Finish: finish, Positions: positions, SettledAt: now})
	return nil
}

func (e *Engine) publish(ev Event) {
	if e.cfg.Hooks.OnEvent != nil {
		e.cfg.Hooks.OnEvent(string(ev.Kind()))
	}
	e.bus.Publish(ev)
}

// flushBetEvents entrega BetEvents adiados, preservando FIFO, depois que o
// handler corrente devolve o controle — evita dispatch reentrante.
func (e *Engine) flushBetEvents() {
	for len(e.pendingBets) > 0 {
		ev := e.pendingBets[0]
		e.pendingBets = e.pendingBets[1:]
		e.publish(ev)
	}
}

func (e *Engine) safeOnStart() {
	defer func() {
		if r := recover(); r != nil {
			e.strategyError("on_start", r)
		}
	}()
	e.strategy.OnStart(e)
}

func (e *Engine) strategyError(where string, recovered any) {
	e.log.Warn("strategy error isolated", zap.String("where", where), zap.Any("panic", recovered))
	if e.cfg.Hooks.OnStrategyError != nil {
		e.cfg.Hooks.OnStrategyError(where, recovered)
	}
}

// ---- API voltada à estratégia ----

// Schedule registra um timer; o TimeEvent correspondente é publicado no
// disparo, antes do callback.
func (e *Engine) Schedule(at time.Time, name string, fn func()) (*ScheduleHandle, error) {
	return e.sched.Schedule(at, name, func(due time.Time) {
		e.publish(&TimeEvent{Name: name, ScheduledFor: due})
		if fn != nil {
			fn()
		}
	})
}

// GetData devolve o snapshot corrente da corrida com as odds do bet type.
func (e *Engine) GetData(raceID string, betType model.BetType) (*RaceSnapshot, error) {
	race, ok := e.races[raceID]
	if !ok {
		loaded, err := e.data.LoadRace(raceID)
		if err != nil || loaded == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, raceID)
		}
		race = loaded
		e.races[raceID] = race
		e.seedOdds(race)
	}

	snap := &RaceSnapshot{Race: copyRace(race), BetType: betType, Odds: make(map[string]float64)}
	for horseID, value := range e.odds[raceID][betType] {
		snap.Odds[horseID] = value
	}
	return snap, nil
}

// GetHistorical devolve o cursor de histórico do cavalo (lazy, finito,
// reiniciável).
func (e *Engine) GetHistorical(horseID string) (HistoryCursor, error) {
	return e.data.History(horseID)
}

// GetBalance devolve o saldo disponível (balance − reserved), em centavos.
func (e *Engine) GetBalance() int64 { return e.pf.Balance() }

// GetRawBalance devolve o saldo bruto, ignorando reservas.
func (e *Engine) GetRawBalance() int64 { return e.pf.RawBalance() }

// GetPositions devolve um snapshot de todas as posições.
func (e *Engine) GetPositions() []model.Position { return e.pf.Positions() }

// PlaceBet valida, reserva e submete uma aposta. Rejeições acontecem antes
// de tocar o ledger; o BetEvent é publicado depois que o handler corrente
// retorna.
func (e *Engine) PlaceBet(raceID string, horseIDs []string, stakeCents int64, betType model.BetType) (*BetHandle, error) {
	now := e.clock.Now()
	selection := make([]string, len(horseIDs))
	copy(selection, horseIDs)
	bet := model.Bet{
		BetID:      uuid.NewString(),
		RaceID:     raceID,
		BetType:    betType,
		Selection:  selection,
		StakeCents: stakeCents,
		PlacedAt:   now,
		State:      model.BetRequested,
	}

	if err := e.validateBet(&bet); err != nil {
		return e.rejectBet(&bet, err)
	}
	if stakeCents > e.pf.Balance() {
		return e.rejectBet(&bet, fmt.Errorf("%w: stake=%d available=%d", ErrInsufficientFunds, stakeCents, e.pf.Balance()))
	}

	accepted, reason, err := e.betting.Submit(&bet)
	if err != nil {
		return e.rejectBet(&bet, fmt.Errorf("betting repository: %w", err))
	}
	if !accepted {
		bet.State = model.BetRejected
		e.queueBetEvent(&bet, false, reason)
		return &BetHandle{BetID: bet.BetID, Accepted: false, Reason: reason}, nil
	}

	if err := e.pf.Reserve(bet); err != nil {
		return e.rejectBet(&bet, err)
	}
	bet.State = model.BetAccepted
	e.queueBetEvent(&bet, true, "")
	return &BetHandle{BetID: bet.BetID, Accepted: true}, nil
}

func (e *Engine) validateBet(bet *model.Bet) error {
	if !bet.BetType.Valid() {
		return fmt.Errorf("%w: unknown bet type %q", ErrInvalidBet, bet.BetType)
	}
	if len(bet.Selection) != bet.BetType.Arity() {
		return fmt.Errorf("%w: %s requires %d selections, got %d",
			ErrInvalidBet, bet.BetType, bet.BetType.Arity(), len(bet.Selection))
	}
	if bet.StakeCents <= 0 {
		return fmt.Errorf("%w: stake must be positive", ErrInvalidBet)
	}
	if e.cfg.MaxStakeCents > 0 && bet.StakeCents > e.cfg.MaxStakeCents {
		return fmt.Errorf("%w: stake %d above limit %d", ErrInvalidBet, bet.StakeCents, e.cfg.MaxStakeCents)
	}

	race, ok := e.races[bet.RaceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, bet.RaceID)
	}
	if _, finished := e.finishes[bet.RaceID]; finished || !e.clock.Now().Before(race.Date) {
		return fmt.Errorf("%w: %s", ErrClosedRace, bet.RaceID)
	}

	if bet.BetType == model.BracketQuinella {
		for _, sel := range bet.Selection {
			n, err := strconv.Atoi(sel)
			if err != nil || n < 1 || n > 8 {
				return fmt.Errorf("%w: bad bracket %q", ErrInvalidBet, sel)
			}
		}
		return nil
	}
	for _, id := range bet.Selection {
		if race.Horse(id) == nil {
			return fmt.Errorf("%w: horse %s not entered in %s", ErrInvalidBet, id, bet.RaceID)
		}
	}
	return nil
}

func (e *Engine) rejectBet(bet *model.Bet, err error) (*BetHandle, error) {
	bet.State = model.BetRejected
	e.queueBetEvent(bet, false, err.Error())
	return nil, err
}

func (e *Engine) queueBetEvent(bet *model.Bet, accepted bool, reason string) {
	if e.cfg.Hooks.OnBet != nil {
		e.cfg.Hooks.OnBet(accepted)
	}
	e.pendingBets = append(e.pendingBets, &BetEvent{
		Bet:      *bet,
		Accepted: accepted,
		Reason:   reason,
		PlacedAt: bet.PlacedAt,
	})
}

func copyRace(r *model.Race) model.Race {
	out := *r
	out.Horses = make([]model.HorseEntry, len(r.Horses))
	copy(out.Horses, r.Horses)
	for i := range out.Horses {
		odds := make(map[model.BetType]float64, len(out.Horses[i].Odds))
		for k, v := range out.Horses[i].Odds {
			odds[k] = v
		}
		out.Horses[i].Odds = odds
	}
	return out
}
