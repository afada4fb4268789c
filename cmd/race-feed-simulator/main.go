package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/internal/settlement"
	"github.com/radieske/keiba-engine-poc/internal/shared/config"
	"github.com/radieske/keiba-engine-poc/internal/shared/logger"
	"github.com/radieske/keiba-engine-poc/pkg/contracts/events"
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	// Métricas Prometheus para monitoramento de conexões e mensagens
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_ws_connections",
		Help: "Clientes WebSocket conectados",
	})
	wsMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_ws_messages_sent_total",
		Help: "Total de mensagens WS enviadas",
	})
	racesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_races_started_total",
		Help: "Corridas simuladas iniciadas",
	})
)

var (
	courses    = []string{"Tokyo", "Nakayama", "Hanshin", "Kyoto", "Chukyo"}
	grounds    = []string{"turf", "dirt"}
	weathers   = []string{"sunny", "cloudy", "rain"}
	horseNames = []string{
		"Deep Thunder", "Silent Storm", "Golden Arrow", "Night Parade",
		"Crimson Gale", "Lucky Ribbon", "Iron Blossom", "Misty Summit",
		"Brave Lantern", "Shining Compass", "Velvet Comet", "Northern Echo",
	}
)

// Representa uma conexão de cliente WebSocket
type clientConn struct {
	id   string
	conn *websocket.Conn
}

// Estrutura responsável por gerenciar os clientes conectados via WebSocket
// e realizar broadcast de mensagens para todos eles.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
	log     *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		clients: make(map[string]*clientConn),
		log:     log,
	}
}

// Adiciona um novo cliente ao hub e incrementa a métrica de conexões
func (h *hub) add(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	wsConnections.Inc()
	h.log.Info("ws client connected", zap.String("client_id", c.id))
}

// Remove um cliente do hub e decrementa a métrica de conexões
func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		wsConnections.Dec()
		h.log.Info("ws client disconnected", zap.String("client_id", id))
	}
}

// Envia uma mensagem para todos os clientes conectados
func (h *hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, _ := json.Marshal(v)
	for id, c := range h.clients {
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
		} else {
			wsMessagesSent.Inc()
		}
	}
}

// gera número aleatório entre min e max
func rnd(min, max float64) float64 {
	return (rand.Float64() * (max - min)) + min
}

// makeCard monta um cartão sintético com 8 a 12 cavalos.
func makeCard(seq int, post time.Time, source string) events.RaceCard {
	n := 8 + rand.Intn(5)
	horses := make([]events.HorseEntry, 0, n)
	perm := rand.Perm(len(horseNames))
	for i := 0; i < n; i++ {
		win := rnd(1.5, 30.0)
		place := math.Max(1.1, win/3)
		horses = append(horses, events.HorseEntry{
			HorseID: fmt.Sprintf("H%03d", perm[i]+1),
			Name:    horseNames[perm[i]],
			Jockey:  fmt.Sprintf("Jockey %d", perm[i]+1),
			Trainer: fmt.Sprintf("Trainer %d", perm[i]%6+1),
			Draw:    i + 1,
			Odds: map[string]float64{
				"win":   round1(win),
				"place": round1(place),
			},
		})
	}
	return events.RaceCard{
		RaceID:      fmt.Sprintf("SIM-%06d", seq),
		Date:        post,
		Course:      courses[rand.Intn(len(courses))],
		Distance:    1200 + 200*rand.Intn(7),
		Ground:      grounds[rand.Intn(len(grounds))],
		Weather:     weathers[rand.Intn(len(weathers))],
		Horses:      horses,
		PublishedAt: time.Now().UTC(),
		Source:      source,
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// makeResult sorteia a chegada ponderada pelas odds e calcula os dividendos.
// Um cavalo pode ser retirado pouco antes da largada (10% das corridas).
func makeResult(card events.RaceCard, source string) events.RaceResult {
	runners := append([]events.HorseEntry(nil), card.Horses...)

	var scratched []string
	if len(runners) > 4 && rand.Intn(10) == 0 {
		i := rand.Intn(len(runners))
		scratched = append(scratched, runners[i].HorseID)
		runners = append(runners[:i], runners[i+1:]...)
	}

	// favoritos chegam na frente com maior probabilidade
	sort.SliceStable(runners, func(i, j int) bool {
		wi := rand.Float64() / runners[i].Odds["win"]
		wj := rand.Float64() / runners[j].Odds["win"]
		return wi > wj
	})

	ranking := make([]string, len(runners))
	for i, h := range runners {
		ranking[i] = h.HorseID
	}

	return events.RaceResult{
		RaceID:      card.RaceID,
		Ranking:     ranking,
		Scratched:   scratched,
		Payoffs:     makePayoffs(card, runners),
		PublishedAt: time.Now().UTC(),
		Source:      source,
	}
}

// makePayoffs deriva dividendos sintéticos dos oito tipos de aposta a partir
// das odds de win dos primeiros colocados.
func makePayoffs(card events.RaceCard, runners []events.HorseEntry) []events.Payoff {
	if len(runners) < 3 {
		return nil
	}
	first, second, third := runners[0], runners[1], runners[2]
	o1, o2, o3 := first.Odds["win"], second.Odds["win"], third.Odds["win"]

	places := 3
	if len(runners) <= 7 {
		places = 2
	}

	payoffs := []events.Payoff{
		payoff("win", []string{first.HorseID}, o1),
		payoff("exacta", []string{first.HorseID, second.HorseID}, round1(o1*o2*0.8)),
		payoff("quinella", []string{first.HorseID, second.HorseID}, round1(o1*o2*0.4)),
		payoff("trifecta_exact", []string{first.HorseID, second.HorseID, third.HorseID}, round1(o1*o2*o3*0.6)),
		payoff("trifecta_box", []string{first.HorseID, second.HorseID, third.HorseID}, round1(o1*o2*o3*0.1)),
	}

	for i := 0; i < places && i < len(runners); i++ {
		payoffs = append(payoffs, payoff("place", []string{runners[i].HorseID}, runners[i].Odds["place"]))
	}
	for i := 0; i < places && i < len(runners); i++ {
		for j := i + 1; j < places && j < len(runners); j++ {
			combined := runners[i].Odds["win"] * runners[j].Odds["win"]
			payoffs = append(payoffs, payoff("quinella_place",
				[]string{runners[i].HorseID, runners[j].HorseID}, round1(math.Max(1.1, combined*0.1))))
		}
	}

	// bracket quinella usa os brackets dos dois primeiros draws
	b1 := settlement.DefaultBracket(first.Draw, len(card.Horses))
	b2 := settlement.DefaultBracket(second.Draw, len(card.Horses))
	payoffs = append(payoffs, payoff("bracket_quinella",
		[]string{fmt.Sprintf("%d", b1), fmt.Sprintf("%d", b2)}, round1(math.Max(1.1, o1*o2*0.2))))

	return payoffs
}

func payoff(betType string, combo []string, odds float64) events.Payoff {
	if odds < 1.0 {
		odds = 1.0
	}
	return events.Payoff{
		BetType:     betType,
		Combination: combo,
		Odds:        odds,
		PayoutCents: int64(math.Round(odds * 10000)), // dividendo para stake de 100.00
	}
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	rand.Seed(time.Now().UnixNano())

	prometheus.MustRegister(wsConnections, wsMessagesSent, racesStarted)

	h := newHub(log)

	// Ciclo de corridas: um cartão novo a cada 30s, largada 60s depois.
	// Entre o cartão e a largada as odds derivam a cada 3s.
	go func() {
		seq := 1
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for ; ; <-ticker.C {
			card := makeCard(seq, time.Now().UTC().Add(60*time.Second), cfg.ServiceName)
			seq++
			racesStarted.Inc()
			h.broadcast(events.FeedMessage{Type: events.FeedTypeCard, Card: &card})
			log.Info("race card published",
				zap.String("race_id", card.RaceID),
				zap.Int("horses", len(card.Horses)))

			go runRace(h, card, cfg.ServiceName, log)
		}
	}()

	// ==== MUX PÚBLICO (HTTP principal): /ws
	appMux := http.NewServeMux()

	appMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		id := fmt.Sprintf("%d", time.Now().UnixNano())
		c := &clientConn{id: id, conn: conn}
		h.add(c)

		// Goroutine para manter a conexão viva e remover cliente ao desconectar
		go func() {
			defer func() {
				h.remove(id)
				_ = conn.Close()
			}()
			_ = conn.SetReadDeadline(time.Time{})
			for {
				// Lê e descarta mensagens do cliente para manter o socket limpo
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	// ==== MUX DE MÉTRICAS (/healthz, /metrics)
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsMux.Handle("/metrics", promhttp.Handler())

	// Servidor de métricas em goroutine
	go func() {
		metricsAddr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("race feed simulator (metrics) running",
			zap.String("addr", metricsAddr),
			zap.String("paths", "/healthz,/metrics"),
		)
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// Servidor público (WS)
	publicAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("race feed simulator (public) running",
		zap.String("addr", publicAddr),
		zap.String("paths", "/ws"),
	)
	if err := http.ListenAndServe(publicAddr, appMux); err != nil {
		log.Fatal("public server error", zap.Error(err))
	}
}

// runRace deriva odds até a largada e então publica o resultado oficial.
func runRace(h *hub, card events.RaceCard, source string, log *zap.Logger) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	version := 1

	for range ticker.C {
		if !time.Now().UTC().Before(card.Date) {
			break
		}
		for i := range card.Horses {
			horse := &card.Horses[i]
			drift := rnd(0.9, 1.1)
			horse.Odds["win"] = round1(math.Max(1.1, horse.Odds["win"]*drift))
			horse.Odds["place"] = round1(math.Max(1.05, horse.Odds["win"]/3))

			for _, bt := range []string{"win", "place"} {
				update := events.OddsUpdate{
					RaceID:    card.RaceID,
					HorseID:   horse.HorseID,
					BetType:   bt,
					Odds:      horse.Odds[bt],
					UpdatedAt: time.Now().UTC(),
					Source:    source,
					Version:   version,
				}
				h.broadcast(events.FeedMessage{Type: events.FeedTypeOdds, Odds: &update})
			}
		}
		version++
	}

	result := makeResult(card, source)
	h.broadcast(events.FeedMessage{Type: events.FeedTypeResult, Result: &result})
	log.Info("race result published",
		zap.String("race_id", result.RaceID),
		zap.Strings("top3", result.Ranking[:min(3, len(result.Ranking))]),
		zap.Int("payoffs", len(result.Payoffs)))
}
