package engine

import (
	"sync"
	"time"
)

// IngestQueue é a fila limitada entre o feed live (produtor em goroutine
// própria) e o loop único do engine. Cheia, descarta o mais antigo e
// registra o descarte — o produtor nunca bloqueia.
type IngestQueue struct {
	mu       sync.Mutex
	buf      []*DataEvent
	capacity int
	closed   bool
	notify   chan struct{}
	onDrop   func(*DataEvent)
}

// NewIngestQueue cria a fila com a capacidade dada.
func NewIngestQueue(capacity int) *IngestQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &IngestQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// OnDrop registra o callback chamado para cada evento descartado.
func (q *IngestQueue) OnDrop(fn func(*DataEvent)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// Push enfileira sem bloquear. Com a fila cheia o evento mais antigo sai
// primeiro (drop-oldest) e o callback de descarte é acionado.
func (q *IngestQueue) Push(ev *DataEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	var dropped *DataEvent
	if len(q.buf) >= q.capacity {
		dropped = q.buf[0]
		q.buf = q.buf[1:]
	}
	q.buf = append(q.buf, ev)
	onDrop := q.onDrop
	q.mu.Unlock()

	if dropped != nil && onDrop != nil {
		onDrop(dropped)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop retira o evento mais antigo sem bloquear.
func (q *IngestQueue) Pop() (*DataEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	ev := q.buf[0]
	q.buf = q.buf[1:]
	return ev, true
}

// Len retorna o tamanho atual da fila.
func (q *IngestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Wait bloqueia até haver item ou até o timeout — nunca além dele.
// Retorna true se provavelmente há item disponível.
func (q *IngestQueue) Wait(timeout time.Duration) bool {
	q.mu.Lock()
	if len(q.buf) > 0 || q.closed {
		n := len(q.buf)
		q.mu.Unlock()
		return n > 0
	}
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.notify:
		return true
	case <-timer.C:
		return false
	}
}

// Close impede novos pushes; itens já enfileirados ainda podem ser drenados.
func (q *IngestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed informa se a fila foi fechada pelo produtor.
func (q *IngestQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
