package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/keiba-engine-poc/pkg/contracts/events"
)

// WSClient consome o stream WebSocket do fornecedor de dados de corrida e
// republica cada mensagem no tópico Kafka correspondente ao seu tipo.
type WSClient struct {
	URL string
	Log *zap.Logger

	Odds    *Publisher // tópico odds_updates
	Cards   *Publisher // tópico race_cards
	Results *Publisher // tópico race_results

	OnIngested func(kind string)  // métricas (counter++)
	OnError    func(stage string) // métricas por fase
}

// Start inicia o loop de conexão e escuta do WebSocket.
// Em caso de desconexão, tenta reconectar automaticamente com backoff.
func (c *WSClient) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Log.Info("context canceled, stopping WS client")
			return
		default:
			if err := c.connectAndListen(ctx); err != nil {
				c.Log.Warn("connection closed", zap.Error(err))
				if c.OnError != nil {
					c.OnError("connect")
				}
				time.Sleep(3 * time.Second) // Aguarda antes de tentar reconectar
			}
		}
	}
}

// connectAndListen estabelece a conexão WebSocket e processa mensagens recebidas.
// Cada mensagem traz um envelope FeedMessage roteado pelo campo type.
func (c *WSClient) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.Log.Info("connected to supplier WS", zap.String("url", c.URL))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, context.Canceled) {
				return nil
			}
			c.Log.Error("read message failed", zap.Error(err))
			return err
		}

		var env events.FeedMessage
		if err := json.Unmarshal(message, &env); err != nil {
			c.Log.Warn("invalid message", zap.Error(err))
			if c.OnError != nil {
				c.OnError("decode")
			}
			continue
		}

		if err := c.route(ctx, &env); err != nil {
			c.Log.Error("failed to publish to Kafka", zap.String("type", env.Type), zap.Error(err))
			if c.OnError != nil {
				c.OnError("publish")
			}
			continue
		}
		if c.OnIngested != nil {
			c.OnIngested(env.Type)
		}
	}
}

// route publica o payload do envelope no tópico do seu tipo.
func (c *WSClient) route(ctx context.Context, env *events.FeedMessage) error {
	switch env.Type {
	case events.FeedTypeOdds:
		if env.Odds == nil {
			return errors.New("odds envelope without payload")
		}
		return c.Odds.Publish(ctx, env.Odds.RaceID, env.Odds)
	case events.FeedTypeCard:
		if env.Card == nil {
			return errors.New("card envelope without payload")
		}
		return c.Cards.Publish(ctx, env.Card.RaceID, env.Card)
	case events.FeedTypeResult:
		if env.Result == nil {
			return errors.New("result envelope without payload")
		}
		return c.Results.Publish(ctx, env.Result.RaceID, env.Result)
	default:
		return errors.New("unknown feed message type: " + env.Type)
	}
}
