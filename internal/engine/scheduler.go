package engine

import (
	"container/heap"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSchedule indica registro de timer no passado em modo replay.
var ErrInvalidSchedule = errors.New("schedule time is in the past")

type timerEntry struct {
	due      time.Time
	seq      int64
	name     string
	fn       func(due time.Time)
	canceled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	// desempate FIFO por seq garante replay determinístico
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// ScheduleHandle permite cancelar um timer antes de disparar.
type ScheduleHandle struct {
	entry *timerEntry
}

// Cancel marca o timer para não disparar. Seguro chamar mais de uma vez.
func (h *ScheduleHandle) Cancel() {
	if h != nil && h.entry != nil {
		h.entry.canceled = true
	}
}

// Scheduler mantém a fila de timers pendentes ordenada por
// (instante, número de registro). Uso restrito ao loop do engine.
type Scheduler struct {
	clock   Clock
	strict  bool // replay: agendar no passado é erro
	timers  timerHeap
	seq     int64
	onPanic func(name string, recovered any)
}

// NewScheduler cria o scheduler. strict=true para replay (tempo no passado
// rejeitado); em live o timer atrasado arma para o próximo tick.
func NewScheduler(clock Clock, strict bool) *Scheduler {
	s := &Scheduler{clock: clock, strict: strict}
	heap.Init(&s.timers)
	return s
}

// OnPanic registra o callback chamado quando um timer entra em pânico.
func (s *Scheduler) OnPanic(fn func(name string, recovered any)) {
	s.onPanic = fn
}

// Schedule registra um callback para o instante at. O callback recebe o
// instante devido (já normalizado) quando dispara.
func (s *Scheduler) Schedule(at time.Time, name string, fn func(due time.Time)) (*ScheduleHandle, error) {
	if fn == nil {
		return nil, fmt.Errorf("schedule %q: nil callback", name)
	}
	now := s.clock.Now()
	if at.Before(now) {
		if s.strict {
			return nil, fmt.Errorf("%w: %s < %s", ErrInvalidSchedule, at.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		// em live o tempo real pode passar entre registro e avaliação
		at = now
	}
	s.seq++
	entry := &timerEntry{due: at.UTC(), seq: s.seq, name: name, fn: fn}
	heap.Push(&s.timers, entry)
	return &ScheduleHandle{entry: entry}, nil
}

// FireDue dispara, em ordem de desempate, todo timer com due <= now.
// Pânico em callback é capturado e reportado como erro de estratégia,
// nunca derruba o loop. Retorna quantos timers dispararam.
func (s *Scheduler) FireDue(now time.Time) int {
	fired := 0
	for len(s.timers) > 0 {
		next := s.timers[0]
		if next.due.After(now) {
			break
		}
		heap.Pop(&s.timers)
		if next.canceled {
			continue
		}
		s.fire(next)
		fired++
	}
	return fired
}

func (s *Scheduler) fire(entry *timerEntry) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(entry.name, r)
		}
	}()
	entry.fn(entry.due)
}

// NextDue retorna o instante do próximo timer armado, se houver.
func (s *Scheduler) NextDue() (time.Time, bool) {
	for len(s.timers) > 0 {
		if s.timers[0].canceled {
			heap.Pop(&s.timers)
			continue
		}
		return s.timers[0].due, true
	}
	return time.Time{}, false
}

// Pending retorna o número de timers armados (inclui cancelados não colhidos).
func (s *Scheduler) Pending() int { return len(s.timers) }

// DiscardAll descarta timers ainda não devidos; usado no drain do stop().
func (s *Scheduler) DiscardAll() {
	s.timers = s.timers[:0]
}
