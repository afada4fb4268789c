package engine

// Handler recebe eventos publicados no bus.
type Handler func(Event)

// Bus é o dispatcher pub/sub in-process. Entrega síncrona, em ordem de
// inscrição, dentro da thread lógica única do engine — a espinha dorsal do
// replay determinístico.
type Bus struct {
	handlers map[EventKind][]Handler
	onPanic  func(kind EventKind, recovered any)
}

// NewBus cria um bus vazio.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventKind][]Handler)}
}

// OnPanic registra o callback para pânico de handler.
func (b *Bus) OnPanic(fn func(kind EventKind, recovered any)) {
	b.onPanic = fn
}

// Subscribe registra um handler para um tipo de evento.
func (b *Bus) Subscribe(kind EventKind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish entrega o evento a todos os inscritos, na ordem de inscrição.
// Pânico em um handler é isolado: os demais ainda recebem o evento.
func (b *Bus) Publish(ev Event) {
	for _, h := range b.handlers[ev.Kind()] {
		b.dispatch(ev, h)
	}
}

func (b *Bus) dispatch(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(ev.Kind(), r)
		}
	}()
	h(ev)
}
