package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/keiba-engine-poc/internal/model"
)

// OddsCache guarda as odds correntes em Redis, um hash por
// (corrida, bet type): chave "odds:{raceID}:{betType}", campo horse id.
type OddsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOddsCache cria o cache com TTL por chave.
func NewOddsCache(rdb *redis.Client, ttl time.Duration) *OddsCache {
	return &OddsCache{rdb: rdb, ttl: ttl}
}

func oddsKey(raceID string, bt model.BetType) string {
	return fmt.Sprintf("odds:%s:%s", raceID, bt)
}

// SetCurrent grava a odd corrente de um cavalo.
func (c *OddsCache) SetCurrent(ctx context.Context, raceID string, bt model.BetType, horseID string, odds float64) error {
	key := oddsKey(raceID, bt)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, horseID, strconv.FormatFloat(odds, 'f', -1, 64))
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Current lê a odd corrente de um cavalo; ok=false quando ausente/expirada.
func (c *OddsCache) Current(ctx context.Context, raceID string, bt model.BetType, horseID string) (float64, bool, error) {
	val, err := c.rdb.HGet(ctx, oddsKey(raceID, bt), horseID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	odds, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad odds value %q: %w", val, err)
	}
	return odds, true, nil
}

// RaceOdds lê todas as odds correntes de um bet type da corrida.
func (c *OddsCache) RaceOdds(ctx context.Context, raceID string, bt model.BetType) (map[string]float64, error) {
	fields, err := c.rdb.HGetAll(ctx, oddsKey(raceID, bt)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(fields))
	for horseID, val := range fields {
		odds, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		out[horseID] = odds
	}
	return out, nil
}
