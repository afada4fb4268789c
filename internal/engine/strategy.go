package engine

// Strategy é o conjunto fixo de hooks chamados pelo engine, nunca pela
// própria estratégia. Embutir Base dá implementações no-op para os hooks
// que a estratégia não usa.
type Strategy interface {
	OnStart(e *Engine)
	OnData(e *Engine, ev *DataEvent)
	OnTime(e *Engine, ev *TimeEvent)
	OnBet(e *Engine, ev *BetEvent)
	OnResult(e *Engine, ev *ResultEvent)
}

// Base fornece hooks vazios; estratégias embutem e sobrescrevem o que
// precisam.
type Base struct{}

func (Base) OnStart(*Engine)                {}
func (Base) OnData(*Engine, *DataEvent)     {}
func (Base) OnTime(*Engine, *TimeEvent)     {}
func (Base) OnBet(*Engine, *BetEvent)       {}
func (Base) OnResult(*Engine, *ResultEvent) {}
