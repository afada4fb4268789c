package engine

import "time"

// Clock abstrai o "agora" do engine. Replay usa o relógio simulado, avançado
// pelos timestamps históricos; live usa o relógio de parede.
type Clock interface {
	Now() time.Time
	AdvanceTo(t time.Time)
}

// SimulatedClock é determinístico: só anda para frente, dirigido pelos
// timestamps consumidos do cursor histórico.
type SimulatedClock struct {
	now time.Time
}

// NewSimulatedClock cria o relógio simulado posicionado em start (UTC).
func NewSimulatedClock(start time.Time) *SimulatedClock {
	return &SimulatedClock{now: start.UTC()}
}

func (c *SimulatedClock) Now() time.Time { return c.now }

// AdvanceTo move o relógio até t; movimentos para trás são ignorados.
func (c *SimulatedClock) AdvanceTo(t time.Time) {
	t = t.UTC()
	if t.After(c.now) {
		c.now = t
	}
}

// WallClock reflete o relógio de parede em UTC.
type WallClock struct{}

func (WallClock) Now() time.Time     { return time.Now().UTC() }
func (WallClock) AdvanceTo(time.Time) {}
